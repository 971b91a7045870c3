// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"documind-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// 对话历史保留策略：每个会话最多 20 条消息，7 天过期。
const (
	conversationHistoryLimit = 20
	conversationTTL          = 7 * 24 * time.Hour
)

// ConversationRepository 定义了对话历史记录的操作接口。
// 会话以「用户 + 文档」为粒度，同一用户对不同文档的提问互不干扰。
type ConversationRepository interface {
	GetHistory(ctx context.Context, userID uint, documentID string) ([]model.ChatMessage, error)
	AppendExchange(ctx context.Context, userID uint, documentID string, question, answer string) error
	ClearHistory(ctx context.Context, userID uint, documentID string) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(userID uint, documentID string) string {
	return fmt.Sprintf("conversation:%d:%s", userID, documentID)
}

// GetHistory 从 Redis 获取对话历史记录，没有历史时返回空切片。
func (r *redisConversationRepository) GetHistory(ctx context.Context, userID uint, documentID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(userID, documentID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return messages, nil
}

// AppendExchange 追加一轮问答并更新过期时间。
func (r *redisConversationRepository) AppendExchange(ctx context.Context, userID uint, documentID string, question, answer string) error {
	messages, err := r.GetHistory(ctx, userID, documentID)
	if err != nil {
		return err
	}

	now := time.Now()
	messages = append(messages,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	// 保留最近 N 条
	if len(messages) > conversationHistoryLimit {
		messages = messages[len(messages)-conversationHistoryLimit:]
	}

	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	if err := r.redisClient.Set(ctx, conversationKey(userID, documentID), jsonData, conversationTTL).Err(); err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}

// ClearHistory 删除指定会话的历史记录，文档被删除时调用。
func (r *redisConversationRepository) ClearHistory(ctx context.Context, userID uint, documentID string) error {
	return r.redisClient.Del(ctx, conversationKey(userID, documentID)).Err()
}
