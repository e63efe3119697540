package model

// OfferKind 播放渠道类型
type OfferKind string

const (
	OfferSubscription OfferKind = "stream-subscription"
	OfferAds          OfferKind = "stream-ads"
	OfferRent         OfferKind = "rent"
	OfferBuy          OfferKind = "buy"
	OfferFree         OfferKind = "free"
)

// WatchProvider 流媒体渠道
type WatchProvider struct {
	ProviderID   int       `json:"provider_id"`
	ProviderName string    `json:"provider_name"`
	LogoPath     string    `json:"logo_path"`
	OfferKind    OfferKind `json:"offer_kind,omitempty"`
}

// RegionProviders 单个地区下按渠道类型分组的播放源
type RegionProviders struct {
	Link     string          `json:"link,omitempty"`
	Flatrate []WatchProvider `json:"flatrate,omitempty"`
	Ads      []WatchProvider `json:"ads,omitempty"`
	Rent     []WatchProvider `json:"rent,omitempty"`
	Buy      []WatchProvider `json:"buy,omitempty"`
	Free     []WatchProvider `json:"free,omitempty"`
}

// ProviderSummary 处理后的播放源（地区已确定）
type ProviderSummary struct {
	Region         string          `json:"region"`
	Stream         []WatchProvider `json:"stream"`
	Rent           []WatchProvider `json:"rent"`
	Buy            []WatchProvider `json:"buy"`
	Free           []WatchProvider `json:"free"`
	HasProviders   bool            `json:"has_providers"`
	TotalProviders int             `json:"total_providers"`
}

// StreamingOption 用于挑选最佳观看渠道的 {name, kind}
type StreamingOption struct {
	Name string    `json:"name"`
	Kind OfferKind `json:"kind,omitempty"`
}

// StreamingOptions 把汇总后的播放源转换为候选列表（订阅/广告在前）
func (s *ProviderSummary) StreamingOptions() []StreamingOption {
	if s == nil {
		return nil
	}
	opts := make([]StreamingOption, 0, len(s.Stream)+len(s.Free))
	for _, p := range s.Stream {
		opts = append(opts, StreamingOption{Name: p.ProviderName, Kind: p.OfferKind})
	}
	for _, p := range s.Free {
		opts = append(opts, StreamingOption{Name: p.ProviderName, Kind: OfferFree})
	}
	return opts
}

// ChartEntry 流媒体榜单条目
type ChartEntry struct {
	Title
	Rank           int    `json:"rank"`
	TrendDirection string `json:"trend_direction"`
	ProviderName   string `json:"provider_name"`
}

// StreamingService 可查询榜单的流媒体平台
type StreamingService struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}
