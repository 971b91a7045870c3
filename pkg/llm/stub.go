package llm

import (
	"context"
	"strings"
)

// stubAnswer 是 stub 后端的固定回答，逐词流式输出。
const stubAnswer = "这是一个 stub 回答。请将 llm.provider 配置为 openai 或 ollama 以获得真实的模型输出。"

// stubClient 是一个确定性、无副作用的 LLM 实现，用于测试与离线环境。
type stubClient struct{}

// NewStubClient 创建一个 stub LLM 客户端。
func NewStubClient() Client {
	return &stubClient{}
}

// Complete 返回固定回答。
func (c *stubClient) Complete(_ context.Context, _ string) (string, error) {
	return stubAnswer, nil
}

// Stream 将固定回答按空白切分后逐段产出，响应 ctx 取消。
func (c *stubClient) Stream(ctx context.Context, _ string, onDelta DeltaFunc) error {
	for _, word := range strings.Fields(stubAnswer) {
		if ctx.Err() != nil {
			return nil
		}
		if err := onDelta(word + " "); err != nil {
			return err
		}
	}
	return nil
}
