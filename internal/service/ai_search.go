package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/user/cinematch/internal/model"
	"github.com/user/cinematch/internal/ranking"
	"github.com/user/cinematch/internal/utils"
)

// Completer 文本补全（Gemini 等）
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// TitleSearcher 按媒体类型搜索标题
type TitleSearcher interface {
	SearchByKind(ctx context.Context, mediaType model.MediaType, query string) ([]model.Title, error)
}

// AISearchResult AI 推荐搜索结果
type AISearchResult struct {
	Query       string        `json:"query"`
	Suggestions []string      `json:"suggestions"`
	Results     []model.Title `json:"results"`
}

// AISearchService 自然语言推荐：AI 给出标题，再到 TMDB 交叉验证
type AISearchService struct {
	completer Completer
	searcher  TitleSearcher
	// 并发交叉验证的上限
	concurrency int
}

// NewAISearchService 创建 AI 推荐服务
func NewAISearchService(completer Completer, searcher TitleSearcher) *AISearchService {
	return &AISearchService{
		completer:   completer,
		searcher:    searcher,
		concurrency: 8,
	}
}

// detectKinds 根据用户输入判断要推荐电影、剧集还是两者
func detectKinds(input string) ([]model.MediaType, string) {
	lower := strings.ToLower(input)
	wantsMovie := strings.Contains(lower, "movie")
	wantsTV := strings.Contains(lower, "tv show") || strings.Contains(lower, "series")

	switch {
	case wantsMovie && !wantsTV:
		return []model.MediaType{model.MediaMovie}, "movies"
	case wantsTV && !wantsMovie:
		return []model.MediaType{model.MediaTV}, "TV shows"
	}
	return []model.MediaType{model.MediaMovie, model.MediaTV}, "movies and TV shows"
}

// BuildPrompt 构造推荐 prompt
func BuildPrompt(input string) string {
	_, phrase := detectKinds(input)
	return fmt.Sprintf("Act as a recommendation engine and suggest up to 20 relevant %s based on the user's input: %s. "+
		"Give me only the titles as a comma-separated list, and ensure no extra text is added.", phrase, input)
}

// ParseSuggestions 拆分逗号或换行分隔的标题，清理序号、引号和年份，去掉空白项
func ParseSuggestions(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := utils.CleanTitle(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Search 执行 AI 推荐搜索
// 没有精确匹配的建议会被静默丢弃；单个建议的查询失败只降级为“无匹配”
func (s *AISearchService) Search(ctx context.Context, input string) (*AISearchResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty query")
	}

	text, err := s.completer.Complete(ctx, BuildPrompt(input))
	if err != nil {
		return nil, fmt.Errorf("ai completion failed: %w", err)
	}

	suggestions := ParseSuggestions(text)
	kinds, _ := detectKinds(input)
	matches := make([]*model.Title, len(suggestions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, name := range suggestions {
		g.Go(func() error {
			matches[i] = s.crossReference(gctx, name, kinds)
			return nil
		})
	}
	_ = g.Wait()

	found := make([]model.Title, 0, len(matches))
	for _, m := range matches {
		if m != nil && m.ID != 0 {
			found = append(found, *m)
		}
	}

	return &AISearchResult{
		Query:       input,
		Suggestions: suggestions,
		Results:     ranking.Dedup(found),
	}, nil
}

// crossReference 在指定类型中找大小写不敏感的精确匹配，取热度最高的一条
func (s *AISearchService) crossReference(ctx context.Context, name string, kinds []model.MediaType) *model.Title {
	var exact []model.Title
	for _, kind := range kinds {
		results, err := s.searcher.SearchByKind(ctx, kind, name)
		if err != nil {
			log.Debug().Err(err).Str("title", name).Msg("[AISearch] 交叉验证失败")
			continue
		}
		for _, r := range results {
			if r.ID != 0 && strings.EqualFold(strings.TrimSpace(r.DisplayName), name) {
				exact = append(exact, r)
			}
		}
	}
	if len(exact) == 0 {
		return nil
	}
	sort.SliceStable(exact, func(i, j int) bool {
		return exact[i].Popularity > exact[j].Popularity
	})
	return &exact[0]
}
