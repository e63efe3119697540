package model

import (
	"github.com/go-playground/validator/v10"
)

// SortKey 排序方式（与 TMDB discover 的 sort_by 取值一致）
type SortKey string

const (
	SortNone          SortKey = ""
	SortPopularity    SortKey = "popularity.desc"
	SortRating        SortKey = "vote_average.desc"
	SortReleaseDate   SortKey = "release_date.desc"
	SortTitle         SortKey = "title.asc"
	SortVoteCountDesc SortKey = "vote_count.desc"
)

// FilterOptions 发现页筛选条件
type FilterOptions struct {
	Genres        []int    `json:"genres,omitempty" form:"genres"`
	ExcludeGenres []int    `json:"exclude_genres,omitempty" form:"exclude_genres"`
	MinRating     float64  `json:"min_rating,omitempty" form:"min_rating" validate:"gte=0,lte=10"`
	MaxRating     float64  `json:"max_rating,omitempty" form:"max_rating" validate:"gte=0,lte=10"`
	AgeRatings    []string `json:"age_ratings,omitempty" form:"age_ratings"`
	SortBy        SortKey  `json:"sort_by,omitempty" form:"sort_by" validate:"omitempty,oneof=popularity.desc vote_average.desc release_date.desc title.asc"`
}

// IsEmpty 没有任何有效筛选条件
// 完全未筛选的发现请求直接返回空结果，而不是返回默认的全量目录
func (f FilterOptions) IsEmpty() bool {
	return len(f.Genres) == 0 &&
		len(f.ExcludeGenres) == 0 &&
		f.MinRating <= 0 &&
		(f.MaxRating <= 0 || f.MaxRating >= 10) &&
		len(f.AgeRatings) == 0 &&
		f.SortBy == SortNone
}

var validate = validator.New()

// Validate 校验筛选条件
func (f FilterOptions) Validate() error {
	return validate.Struct(f)
}
