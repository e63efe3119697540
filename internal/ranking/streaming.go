package ranking

import (
	"slices"

	"github.com/user/cinematch/internal/model"
)

// StreamingPriority 主流平台优先级
var StreamingPriority = []string{
	"Netflix",
	"Amazon Prime Video",
	"Disney Plus",
	"HBO Max",
	"Apple TV Plus",
	"Paramount Plus",
	"Peacock",
	"Hulu",
	"Crunchyroll",
	"Funimation",
}

// 无广告平台
var adFreeServices = map[string]struct{}{
	"Netflix":            {},
	"Amazon Prime Video": {},
	"Disney Plus":        {},
	"HBO Max":            {},
	"Apple TV Plus":      {},
	"Paramount Plus":     {},
	"Crunchyroll":        {},
	"Funimation":         {},
}

// PickBestStreamingOption 挑选最佳观看渠道
// 先按优先级在无广告平台中找，再按优先级在全部候选中找，最后退回第一个候选
func PickBestStreamingOption(options []model.StreamingOption) (model.StreamingOption, bool) {
	if len(options) == 0 {
		return model.StreamingOption{}, false
	}

	for _, name := range StreamingPriority {
		if _, ok := adFreeServices[name]; !ok {
			continue
		}
		if i := indexByName(options, name); i >= 0 {
			return options[i], true
		}
	}

	for _, name := range StreamingPriority {
		if i := indexByName(options, name); i >= 0 {
			return options[i], true
		}
	}

	return options[0], true
}

func indexByName(options []model.StreamingOption, name string) int {
	return slices.IndexFunc(options, func(o model.StreamingOption) bool {
		return o.Name == name
	})
}

var displayNames = map[string]string{
	"Amazon Prime Video": "Prime Video",
	"Disney Plus":        "Disney+",
	"HBO Max":            "Max",
	"Apple TV Plus":      "Apple TV+",
	"Paramount Plus":     "Paramount+",
}

// FormatServiceName 平台展示名
func FormatServiceName(name string) string {
	if v, ok := displayNames[name]; ok {
		return v
	}
	return name
}

// IsMajorStreamingService 是否为收录的主流平台
func IsMajorStreamingService(name string) bool {
	return slices.Contains(StreamingPriority, name)
}

// ProviderTypeLabel 渠道类型的展示文案
func ProviderTypeLabel(kind model.OfferKind) string {
	switch kind {
	case model.OfferSubscription:
		return "Subscription"
	case model.OfferAds:
		return "With Ads"
	case model.OfferRent:
		return "Rent"
	case model.OfferBuy:
		return "Buy"
	case model.OfferFree:
		return "Free"
	}
	return string(kind)
}

// ProcessWatchProviders 选出用户所在地区的播放源，没有则退回 US
// 订阅与带广告的渠道合并为 Stream，并标注 OfferKind
func ProcessWatchProviders(results map[string]model.RegionProviders, region string) model.ProviderSummary {
	summary := model.ProviderSummary{
		Region: region,
		Stream: []model.WatchProvider{},
		Rent:   []model.WatchProvider{},
		Buy:    []model.WatchProvider{},
		Free:   []model.WatchProvider{},
	}

	rp, ok := results[region]
	if !ok || isEmptyRegion(rp) {
		rp, ok = results["US"]
		if !ok {
			return summary
		}
		summary.Region = "US"
	}

	summary.Stream = append(summary.Stream, tagged(rp.Flatrate, model.OfferSubscription)...)
	summary.Stream = append(summary.Stream, tagged(rp.Ads, model.OfferAds)...)
	summary.Rent = append(summary.Rent, tagged(rp.Rent, model.OfferRent)...)
	summary.Buy = append(summary.Buy, tagged(rp.Buy, model.OfferBuy)...)
	summary.Free = append(summary.Free, tagged(rp.Free, model.OfferFree)...)

	summary.TotalProviders = len(summary.Stream) + len(summary.Rent) + len(summary.Buy) + len(summary.Free)
	summary.HasProviders = summary.TotalProviders > 0
	return summary
}

func isEmptyRegion(rp model.RegionProviders) bool {
	return len(rp.Flatrate)+len(rp.Ads)+len(rp.Rent)+len(rp.Buy)+len(rp.Free) == 0
}

func tagged(in []model.WatchProvider, kind model.OfferKind) []model.WatchProvider {
	out := make([]model.WatchProvider, 0, len(in))
	for _, p := range in {
		p.OfferKind = kind
		out = append(out, p)
	}
	return out
}
