package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/rushteam/reclearn/core"
	"github.com/rushteam/reclearn/pkg/metrics"
)

// DefaultEmbeddingModel 是默认的向量化模型。
const DefaultEmbeddingModel = "text-embedding-ada-002"

// ParseEmbeddingModel 把模型名解析为客户端库支持的模型，未知模型返回 INVALID_INPUT。
func ParseEmbeddingModel(name string) (openai.EmbeddingModel, error) {
	var m openai.EmbeddingModel
	if err := m.UnmarshalText([]byte(name)); err != nil || m == openai.Unknown {
		return openai.Unknown, core.InvalidInput(core.ModuleEmbedding, "unsupported embedding model %q", name)
	}
	return m, nil
}

// OpenAIEmbedder 是基于 OpenAI 兼容接口（/v1/embeddings）的向量化服务客户端。
//
// 错误约定：
//   - 超时、网络错误、429、5xx：core.Unavailable（暂时性，调用方可重试）
//   - 其他 4xx、空结果：core.InvalidInput（数据问题，调用方跳过该内容）
//
// 使用示例：
//
//	embedder, err := service.NewOpenAIEmbedder(apiKey,
//	    service.WithOpenAIModel("text-embedding-ada-002"),
//	    service.WithOpenAIRateLimit(5, 10),
//	)
//	vec, err := embedder.Embed(ctx, "Intro to Algebra\nlinear equations")
type OpenAIEmbedder struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	timeout time.Duration
	limiter *rate.Limiter
}

type openAIOptions struct {
	baseURL    string
	model      string
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
}

// OpenAIOption 配置 OpenAIEmbedder。
type OpenAIOption func(*openAIOptions)

// WithOpenAIBaseURL 设置接口地址（兼容 OpenAI 协议的自建服务）。
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(o *openAIOptions) { o.baseURL = url }
}

// WithOpenAIModel 设置模型名。
func WithOpenAIModel(model string) OpenAIOption {
	return func(o *openAIOptions) { o.model = model }
}

// WithOpenAITimeout 设置单次请求超时。
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(o *openAIOptions) { o.timeout = d }
}

// WithOpenAIRateLimit 限制每秒请求数，rps <= 0 表示不限。
func WithOpenAIRateLimit(rps float64, burst int) OpenAIOption {
	return func(o *openAIOptions) {
		if rps <= 0 {
			o.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithOpenAIHTTPClient 设置自定义 HTTP 客户端。
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(o *openAIOptions) { o.httpClient = c }
}

// NewOpenAIEmbedder 创建向量化客户端，模型名不受支持时返回错误。
func NewOpenAIEmbedder(apiKey string, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	o := &openAIOptions{
		model:   DefaultEmbeddingModel,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	model, err := ParseEmbeddingModel(o.model)
	if err != nil {
		return nil, err
	}
	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}
	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: o.timeout,
		limiter: o.limiter,
	}, nil
}

// Embed 实现 core.Embedder。
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, core.InvalidInput(core.ModuleEmbedding, "empty text")
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			metrics.EmbeddingCalls.WithLabelValues("error").Inc()
			return nil, core.Unavailable(core.ModuleEmbedding, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		metrics.EmbeddingCalls.WithLabelValues("error").Inc()
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		metrics.EmbeddingCalls.WithLabelValues("error").Inc()
		return nil, core.InvalidInput(core.ModuleEmbedding, "empty embedding returned by model %s", e.model)
	}
	metrics.EmbeddingCalls.WithLabelValues("miss").Inc()

	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}

func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == 0 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		return core.Unavailable(core.ModuleEmbedding, err)
	}
	return core.WrapDomainError(core.ModuleEmbedding, core.ErrorCodeInvalidInput, err, "embedding: rejected with status %d", status)
}

var _ core.Embedder = (*OpenAIEmbedder)(nil)
