// Package llm provides a uniform client interface over pluggable
// Large Language Model backends.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"documind-go/internal/config"
)

// DeltaFunc 接收流式输出的一个文本增量。
// 返回非 nil 错误时，后端应停止产出后续增量。
type DeltaFunc func(delta string) error

// Client 定义了 LLM 客户端的统一接口。
// Stream 在 ctx 取消后必须尽快停止产出增量，且取消本身不作为错误返回。
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string, onDelta DeltaFunc) error
}

// NewClient 根据配置中的 provider 创建对应的 LLM 客户端。
// provider 在构造时解析一次，之后不再按调用分发。
func NewClient(cfg config.LLMConfig) Client {
	switch cfg.Provider {
	case "openai":
		return &openAICompatibleClient{cfg: cfg, client: &http.Client{}}
	case "ollama":
		return &ollamaClient{cfg: cfg.Ollama, client: &http.Client{}}
	default:
		return NewStubClient()
	}
}

// canceled 判断错误是否由 ctx 取消引起。
// 取消属于正常终止，调用方不应将其视为上游故障。
func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ---------------------------------------------------------------------------
// OpenAI 兼容后端（SSE 流式）

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// buildRequest 组装聊天请求体，从全局配置注入生成参数（若非零值）。
func (c *openAICompatibleClient) buildRequest(prompt string, stream bool) chatRequest {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   stream,
	}
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}
	return reqBody
}

func (c *openAICompatibleClient) do(ctx context.Context, reqBody chatRequest, accept string) (*http.Response, error) {
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return resp, nil
}

// Complete 调用聊天接口并返回完整回答。
func (c *openAICompatibleClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.do(ctx, c.buildRequest(prompt, false), "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result chatStreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", errors.New("chat api returned no choices")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// Stream 以 SSE 方式调用聊天接口，将每个增量交给 onDelta。
func (c *openAICompatibleClient) Stream(ctx context.Context, prompt string, onDelta DeltaFunc) error {
	resp, err := c.do(ctx, c.buildRequest(prompt, true), "text/event-stream")
	if err != nil {
		if canceled(ctx, err) {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF || canceled(ctx, err) {
				return nil
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			return nil
		}

		var chunk chatStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if err := onDelta(content); err != nil {
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Ollama 后端（NDJSON 流式）

type ollamaClient struct {
	cfg    config.OllamaConfig
	client *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *ollamaClient) do(ctx context.Context, reqBody ollamaRequest) (*http.Response, error) {
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call ollama: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}
	return resp, nil
}

// Complete 调用 /api/generate 并等待完整回答。
func (c *ollamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.do(ctx, ollamaRequest{Model: c.cfg.Model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return strings.TrimSpace(result.Response), nil
}

// Stream 以 NDJSON 方式调用 /api/generate，逐行解析并产出增量。
func (c *ollamaClient) Stream(ctx context.Context, prompt string, onDelta DeltaFunc) error {
	resp, err := c.do(ctx, ollamaRequest{Model: c.cfg.Model, Prompt: prompt, Stream: true})
	if err != nil {
		if canceled(ctx, err) {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk ollamaResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Response != "" {
			if err := onDelta(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && !canceled(ctx, err) {
		return fmt.Errorf("failed to read ollama stream: %w", err)
	}
	return nil
}
