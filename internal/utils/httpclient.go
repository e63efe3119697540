package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	// ErrTransient 超时、连接失败、5xx、429 等可重试的错误
	ErrTransient = errors.New("transient upstream error")
	// ErrNotFound 上游返回 404
	ErrNotFound = errors.New("upstream resource not found")
	// ErrUpstream 其他非 2xx 响应
	ErrUpstream = errors.New("upstream error")
)

// StatusError 携带状态码的上游错误
type StatusError struct {
	StatusCode int
	URL        string
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("请求失败，状态码: %d (%s)", e.StatusCode, e.URL)
}

func (e *StatusError) Unwrap() error { return e.kind }

// IsTransient 是否为可重试错误
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// HTTPClient 带限流与重试的 JSON API 客户端
type HTTPClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	headers    map[string]string
	attempts   uint
	retryDelay time.Duration
}

// NewHTTPClient 创建新的 HTTP 客户端
// rps<=0 表示不限流
func NewHTTPClient(httpc *http.Client, rps float64, headers map[string]string) *HTTPClient {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &HTTPClient{
		httpClient: httpc,
		limiter:    limiter,
		headers:    headers,
		attempts:   3,
		retryDelay: 300 * time.Millisecond,
	}
}

// SetRetry 设置可重试错误的总尝试次数和初始退避；attempts 为 0 时不修改
func (c *HTTPClient) SetRetry(attempts uint, delay time.Duration) *HTTPClient {
	if attempts > 0 {
		c.attempts = attempts
	}
	if delay > 0 {
		c.retryDelay = delay
	}
	return c
}

// GetJSON 发送 GET 请求并解析 JSON 响应
// 超时、5xx、429 按指数退避重试，其余错误立即返回
func (c *HTTPClient) GetJSON(ctx context.Context, url string, target any) error {
	return retry.Do(
		func() error { return c.getOnce(ctx, url, target) },
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Str("url", url).Uint("attempt", n+1).Msg("[HTTPClient] 请求失败，准备重试")
		}),
	)
}

func (c *HTTPClient) getOnce(ctx context.Context, url string, target any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 读掉响应体以便连接复用
		_, _ = io.Copy(io.Discard, resp.Body)
		return classifyStatus(resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: 读取响应失败: %v", ErrTransient, err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		log.Debug().Err(err).Str("url", url).Msg("[HTTPClient] 解析JSON失败")
		return fmt.Errorf("%w: 解析JSON失败: %v", ErrUpstream, err)
	}
	return nil
}

func classifyStatus(code int, url string) error {
	kind := ErrUpstream
	switch {
	case code == http.StatusNotFound:
		kind = ErrNotFound
	case code == http.StatusTooManyRequests || code >= 500:
		kind = ErrTransient
	}
	return &StatusError{StatusCode: code, URL: url, kind: kind}
}
