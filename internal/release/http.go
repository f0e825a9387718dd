package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apk-analysis/toolsetup/internal/retry"
)

// StatusError 元数据请求返回非 200 状态
type StatusError struct {
	URL        string
	StatusCode int
	RateLimit  bool
	Body       string
}

func (e *StatusError) Error() string {
	if e.RateLimit {
		return fmt.Sprintf("rate limited by %s (status %d)", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// IsRetryable 限流和服务端错误可重试
func (e *StatusError) IsRetryable() bool {
	return e.RateLimit || e.StatusCode >= http.StatusInternalServerError
}

// IsNotFound 资源不存在
func (e *StatusError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// HTTPClient 元数据请求客户端
type HTTPClient struct {
	client    *http.Client
	userAgent string
	token     string
	tokenHost string
}

// NewHTTPClient 创建客户端
// token 只发送给 tokenHost（GitHub API 主机），避免泄露给其他源。
func NewHTTPClient(timeout time.Duration, userAgent, token, tokenHost string) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		token:     strings.TrimSpace(token),
		tokenHost: tokenHost,
	}
}

// Get 发起 GET 请求并读取完整响应体
func (c *HTTPClient) Get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.NewNonRetryableError(err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.token != "" && c.sendsToken(req.URL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.NewRetryableError(fmt.Errorf("fetch %s: %w", rawURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			RateLimit:  isRateLimited(resp),
			Body:       strings.TrimSpace(string(body)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.NewRetryableError(fmt.Errorf("read %s: %w", rawURL, err))
	}
	return data, nil
}

// GetJSON 请求并解码 JSON
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, out any) error {
	data, err := c.Get(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

func (c *HTTPClient) sendsToken(u *url.URL) bool {
	return c.tokenHost == "" || strings.EqualFold(u.Host, c.tokenHost)
}

// isRateLimited GitHub 在配额耗尽时返回 403 + X-RateLimit-Remaining: 0，其他源使用 429
func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}
