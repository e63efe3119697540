package ranking

import (
	"slices"
	"sort"
	"strings"

	"github.com/user/cinematch/internal/model"
)

// Predicate 条目筛选谓词
type Predicate func(model.Title) bool

// GenreInclude 包含任一类型即通过；列表为空时恒为真
func GenreInclude(genres []int) Predicate {
	if len(genres) == 0 {
		return always
	}
	set := toSet(genres)
	return func(t model.Title) bool {
		return t.HasGenre(set)
	}
}

// GenreExclude 不得命中任何一个类型；列表为空时恒为真
func GenreExclude(genres []int) Predicate {
	if len(genres) == 0 {
		return always
	}
	set := toSet(genres)
	return func(t model.Title) bool {
		return !t.HasGenre(set)
	}
}

// RatingRange 评分在 [min, max] 闭区间内；min<=0 与 max<=0 表示不限
func RatingRange(min, max float64) Predicate {
	if min <= 0 && max <= 0 {
		return always
	}
	return func(t model.Title) bool {
		if min > 0 && t.VoteAverage < min {
			return false
		}
		if max > 0 && t.VoteAverage > max {
			return false
		}
		return true
	}
}

// AgeRatings 分级属于所选集合之一；certs 为条目已知的分级列表
// 有选择但没有分级来源时，无法确认任何条目，全部不通过
func AgeRatings(selected []string, certs func(model.Title) []string) Predicate {
	if len(selected) == 0 {
		return always
	}
	if certs == nil {
		return func(model.Title) bool { return false }
	}
	return func(t model.Title) bool {
		for _, c := range certs(t) {
			if slices.Contains(selected, c) {
				return true
			}
		}
		return false
	}
}

// Compose 逻辑与组合
func Compose(preds ...Predicate) Predicate {
	return func(t model.Title) bool {
		for _, p := range preds {
			if p != nil && !p(t) {
				return false
			}
		}
		return true
	}
}

// FromFilters 根据筛选条件生成谓词（分级需要额外的分级数据源）
func FromFilters(f model.FilterOptions, certs func(model.Title) []string) Predicate {
	return Compose(
		GenreInclude(f.Genres),
		GenreExclude(f.ExcludeGenres),
		RatingRange(f.MinRating, f.MaxRating),
		AgeRatings(f.AgeRatings, certs),
	)
}

// Apply 过滤列表，保持原有顺序
func Apply(titles []model.Title, p Predicate) []model.Title {
	out := make([]model.Title, 0, len(titles))
	for _, t := range titles {
		if p(t) {
			out = append(out, t)
		}
	}
	return out
}

// Dedup 按 id 去重，保留首次出现的条目
func Dedup(titles []model.Title) []model.Title {
	seen := make(map[int]struct{}, len(titles))
	out := make([]model.Title, 0, len(titles))
	for _, t := range titles {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}

// SortTitles 稳定排序；未知或空排序键时保持原顺序
func SortTitles(titles []model.Title, key model.SortKey) {
	var less func(a, b model.Title) bool
	switch key {
	case model.SortPopularity:
		less = func(a, b model.Title) bool { return a.Popularity > b.Popularity }
	case model.SortRating:
		less = func(a, b model.Title) bool { return a.VoteAverage > b.VoteAverage }
	case model.SortReleaseDate:
		// ISO 日期按字典序即可比较，缺失日期排在最后
		less = func(a, b model.Title) bool { return a.ReleaseDate > b.ReleaseDate }
	case model.SortTitle:
		less = func(a, b model.Title) bool {
			return strings.ToLower(a.DisplayName) < strings.ToLower(b.DisplayName)
		}
	case model.SortVoteCountDesc:
		less = func(a, b model.Title) bool { return a.VoteCount > b.VoteCount }
	default:
		return
	}
	sort.SliceStable(titles, func(i, j int) bool {
		return less(titles[i], titles[j])
	})
}

// RankTrailers 只保留 Trailer，官方优先，其次 YouTube，再按清晰度降序
func RankTrailers(videos []model.Trailer) []model.Trailer {
	out := make([]model.Trailer, 0, len(videos))
	for _, v := range videos {
		if v.Type == "Trailer" {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Official != b.Official {
			return a.Official
		}
		if (a.Site == "YouTube") != (b.Site == "YouTube") {
			return a.Site == "YouTube"
		}
		return a.Size > b.Size
	})
	return out
}

func always(model.Title) bool { return true }

func toSet(ids []int) map[int]struct{} {
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
