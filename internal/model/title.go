package model

import (
	"strconv"
)

// MediaType 媒体类型
type MediaType string

const (
	MediaMovie MediaType = "movie"
	MediaTV    MediaType = "tv"
)

// Valid 是否为支持的媒体类型
func (m MediaType) Valid() bool {
	return m == MediaMovie || m == MediaTV
}

// ParseMediaType 解析媒体类型，兼容 "movies"/"shows" 写法
func ParseMediaType(s string) (MediaType, bool) {
	switch s {
	case "movie", "movies":
		return MediaMovie, true
	case "tv", "show", "shows":
		return MediaTV, true
	}
	return "", false
}

// Title 归一化后的影视条目
// MediaType 只在网关层归一化时设置一次，下游不再通过字段推断类型
type Title struct {
	ID            int       `json:"id"`
	MediaType     MediaType `json:"media_type"`
	DisplayName   string    `json:"display_name"`
	ReleaseDate   string    `json:"release_date,omitempty"`
	Popularity    float64   `json:"popularity"`
	RawPopularity *float64  `json:"raw_popularity,omitempty"` // 综合评分覆盖前的原始热度
	VoteAverage   float64   `json:"vote_average"`
	VoteCount     int       `json:"vote_count"`
	GenreIDs      []int     `json:"genre_ids,omitempty"`
	Overview      string    `json:"overview,omitempty"`
	PosterPath    string    `json:"poster_path,omitempty"`
	BackdropPath  string    `json:"backdrop_path,omitempty"`
}

// Year 返回上映/首播年份，缺失或无法解析时返回 0
func (t Title) Year() int {
	if len(t.ReleaseDate) < 4 {
		return 0
	}
	year, err := strconv.Atoi(t.ReleaseDate[:4])
	if err != nil {
		return 0
	}
	return year
}

// HasGenre 是否包含任一给定类型
func (t Title) HasGenre(set map[int]struct{}) bool {
	for _, id := range t.GenreIDs {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// Clone 深拷贝，避免切片共享
func (t Title) Clone() Title {
	c := t
	if t.GenreIDs != nil {
		c.GenreIDs = append([]int(nil), t.GenreIDs...)
	}
	if t.RawPopularity != nil {
		v := *t.RawPopularity
		c.RawPopularity = &v
	}
	return c
}

// Genre 类型
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// TitleDetails 详情（在 Title 基础上扩展）
type TitleDetails struct {
	Title
	Genres         []Genre `json:"genres"`
	Runtime        int     `json:"runtime,omitempty"`
	NumberOfSeason int     `json:"number_of_seasons,omitempty"`
	Status         string  `json:"status"`
	Tagline        string  `json:"tagline,omitempty"`
	IMDbID         string  `json:"imdb_id,omitempty"`
}

// Trailer 预告片
type Trailer struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Site     string `json:"site"`
	Type     string `json:"type"`
	Official bool   `json:"official"`
	Size     int    `json:"size"`
}

// Page 分页结果
type Page struct {
	Page         int     `json:"page"`
	Results      []Title `json:"results"`
	TotalPages   int     `json:"total_pages"`
	TotalResults int     `json:"total_results"`
}

// EmptyPage 空结果页
func EmptyPage() *Page {
	return &Page{Page: 1, Results: []Title{}, TotalPages: 0, TotalResults: 0}
}

// HasNext 是否还有下一页
func (p *Page) HasNext() bool {
	return p != nil && p.Page < p.TotalPages
}

// TraktRating Trakt 评分
type TraktRating struct {
	Rating       float64        `json:"rating"`
	Votes        int            `json:"votes"`
	Distribution map[string]int `json:"distribution,omitempty"`
}
