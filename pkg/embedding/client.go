// Package embedding provides clients for text embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"documind-go/internal/config"
	"documind-go/pkg/log"
)

// ErrUpstreamUnavailable 表示外部向量化服务不可用或返回了非法结果。
var ErrUpstreamUnavailable = errors.New("embedding upstream unavailable")

// Client 定义了向量化客户端的接口。
// 所有实现必须保证同一部署内向量维度固定。
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// NewClient 根据配置中的 provider 创建对应的向量化客户端。
// provider 在构造时解析一次，之后不再按调用分发。
func NewClient(cfg config.EmbeddingConfig) Client {
	switch cfg.Provider {
	case "openai":
		return &openAICompatibleClient{
			cfg:    cfg,
			client: &http.Client{},
		}
	default:
		return NewStubClient(cfg.Dimensions)
	}
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Dimension 返回部署固定的向量维度。
func (c *openAICompatibleClient) Dimension() int {
	return c.cfg.Dimensions
}

// CreateEmbedding calls the OpenAI-compatible API to get the vector for a given text.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, input_len: %d", c.cfg.Model, len(text))
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      []string{text},
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("%w: status %s", ErrUpstreamUnavailable, resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}

	if len(embeddingResp.Data) == 0 || len(embeddingResp.Data[0].Embedding) == 0 {
		log.Warnf("[EmbeddingClient] Embedding API 返回了空的向量数据")
		return nil, fmt.Errorf("%w: received empty embedding", ErrUpstreamUnavailable)
	}

	// 维度校验：错误的维度会污染整个索引，必须在此处拦截
	vector := embeddingResp.Data[0].Embedding
	if len(vector) != c.cfg.Dimensions {
		log.Errorf("[EmbeddingClient] 向量维度不匹配, 期望 %d, 实际 %d", c.cfg.Dimensions, len(vector))
		return nil, fmt.Errorf("%w: dimension mismatch, want %d got %d", ErrUpstreamUnavailable, c.cfg.Dimensions, len(vector))
	}

	log.Infof("[EmbeddingClient] 成功从 Embedding API 获取向量, 维度: %d", len(vector))
	return vector, nil
}
