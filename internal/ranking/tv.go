// Package ranking 综合排序引擎：对 Title 列表做过滤、打分和排序，不涉及任何 I/O
package ranking

import (
	"math"
	"regexp"
	"sort"

	"github.com/user/cinematch/internal/model"
)

// 直接排除的类型（新闻、脱口秀）
var blockedGenres = map[int]struct{}{
	10763: {}, // News
	10767: {}, // Talk
}

// 降权但不排除的类型
var penaltyGenres = map[int]struct{}{
	16:    {}, // Animation
	10751: {}, // Family
	10764: {}, // Reality
	10766: {}, // Soap
}

// 标题命中即排除（长青节目、深夜秀等）
var blockedKeywords = []*regexp.Regexp{
	regexp.MustCompile(`(?i)late\s?night`),
	regexp.MustCompile(`(?i)tonight\s?show`),
	regexp.MustCompile(`(?i)conan`),
	regexp.MustCompile(`(?i)gre(y|ey)'?s?\s+anatomy`),
	regexp.MustCompile(`(?i)^ncis`),
	regexp.MustCompile(`(?i)csi`),
}

const (
	minFirstAirYear   = 2000
	penaltyMultiplier = 0.6
	popularityWeight  = 0.3
	qualityWeight     = 0.7
)

// IsBlockedShow 判断剧集是否应被排除
// 年份缺失或无法解析时不排除
func IsBlockedShow(t model.Title) bool {
	if t.HasGenre(blockedGenres) {
		return true
	}
	for _, rx := range blockedKeywords {
		if rx.MatchString(t.DisplayName) {
			return true
		}
	}
	if year := t.Year(); year > 0 && year < minFirstAirYear {
		return true
	}
	return false
}

// QualityScore 评分质量：voteAverage * log10(voteCount + 1)
func QualityScore(voteAverage float64, voteCount int) float64 {
	if voteCount < 0 {
		voteCount = 0
	}
	return voteAverage * math.Log10(float64(voteCount)+1)
}

// CompositeScore 热度 30% + 质量 70%，命中降权类型再乘 0.6
func CompositeScore(t model.Title) float64 {
	base := t.Popularity*popularityWeight + QualityScore(t.VoteAverage, t.VoteCount)*qualityWeight
	if t.HasGenre(penaltyGenres) {
		base *= penaltyMultiplier
	}
	return base
}

// RefineTVShows 过滤并按综合评分对剧集重新排序
// 1. 排除屏蔽类型、屏蔽关键词以及 2000 年以前首播的剧集
// 2. 用综合评分覆盖 Popularity（原值保存在 RawPopularity）
// 3. 按评分降序稳定排序
func RefineTVShows(shows []model.Title) []model.Title {
	out := make([]model.Title, 0, len(shows))
	for _, s := range shows {
		if IsBlockedShow(s) {
			continue
		}
		refined := s.Clone()
		raw := s.Popularity
		refined.RawPopularity = &raw
		refined.Popularity = CompositeScore(s)
		out = append(out, refined)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Popularity > out[j].Popularity
	})
	return out
}
