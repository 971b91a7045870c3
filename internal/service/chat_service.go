package service

import (
	"context"
	"errors"
	"strings"

	"documind-go/internal/model"
	"documind-go/internal/repository"
	"documind-go/pkg/llm"
	"documind-go/pkg/log"
)

// 固定回答：这些情形不调用模型，直接返回说明文字。
const (
	answerEmptyQuestion    = "请输入有效的问题。"
	answerNoIndexedContent = "该文档还没有可检索的内容，请等待处理完成后再试。"
	answerNoExtractedText  = "该文档未能提取到可用文本（可能是扫描件），无法基于文档内容回答。"
)

// 流式事件类型。
const (
	EventDelta = "delta"
	EventError = "error"
	EventDone  = "done"
)

// StreamEvent 是流式回答序列中的一个事件。
// 序列形如：零或多个 delta，可选一个 error，最后恰好一个 done。
type StreamEvent struct {
	Type    string
	Delta   string
	Message string
	Sources []model.AnswerSource
}

// AnswerResult 是单次问答的完整结果。
type AnswerResult struct {
	Answer  string               `json:"answer"`
	Sources []model.AnswerSource `json:"sources"`
}

// ChatService 接口定义了基于文档的问答操作。
//
// StreamAnswer 返回的通道最终一定会收到一个 done 事件并随后关闭——
// 正常完成、上游模型失败、调用方取消都不例外；调用方必须把通道读完。
type ChatService interface {
	Answer(ctx context.Context, ownerID uint, documentID, question string, topK int) (*AnswerResult, error)
	StreamAnswer(ctx context.Context, ownerID uint, documentID, question string, topK int) (<-chan StreamEvent, error)
	History(ctx context.Context, ownerID uint, documentID string) ([]model.ChatMessage, error)
}

type chatService struct {
	retrieval     RetrievalService
	promptBuilder *PromptBuilder
	llmClient     llm.Client
	convRepo      repository.ConversationRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(retrieval RetrievalService, promptBuilder *PromptBuilder, llmClient llm.Client, convRepo repository.ConversationRepository) ChatService {
	return &chatService{
		retrieval:     retrieval,
		promptBuilder: promptBuilder,
		llmClient:     llmClient,
		convRepo:      convRepo,
	}
}

// prepare 执行问答前置流程：固定回答判定、检索与 prompt 组装。
// fixed 非空表示命中固定回答，无需调用模型。
func (s *chatService) prepare(ctx context.Context, ownerID uint, documentID, question string, topK int) (fixed string, prompt string, sources []model.AnswerSource, err error) {
	if strings.TrimSpace(question) == "" {
		return answerEmptyQuestion, "", nil, nil
	}

	chunks, err := s.retrieval.Retrieve(ctx, ownerID, documentID, question, topK)
	if err != nil {
		return "", "", nil, err
	}
	if len(chunks) == 0 {
		return answerNoIndexedContent, "", nil, nil
	}
	allEmpty := true
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) != "" {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		return answerNoExtractedText, "", nil, nil
	}

	prompt, included := s.promptBuilder.Build(chunks, question)
	scoreByIndex := make(map[int]float64, len(chunks))
	for _, c := range chunks {
		scoreByIndex[c.ChunkIndex] = c.Score
	}
	sources = make([]model.AnswerSource, 0, len(included))
	for _, idx := range included {
		sources = append(sources, model.AnswerSource{
			DocumentID: documentID,
			ChunkIndex: idx,
			Score:      scoreByIndex[idx],
		})
	}
	return "", prompt, sources, nil
}

// Answer 执行单次完整问答。
func (s *chatService) Answer(ctx context.Context, ownerID uint, documentID, question string, topK int) (*AnswerResult, error) {
	fixed, prompt, sources, err := s.prepare(ctx, ownerID, documentID, question, topK)
	if err != nil {
		return nil, err
	}
	if fixed != "" {
		return &AnswerResult{Answer: fixed, Sources: []model.AnswerSource{}}, nil
	}

	answer, err := s.llmClient.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	s.saveHistory(ownerID, documentID, question, answer)
	return &AnswerResult{Answer: answer, Sources: sources}, nil
}

// StreamAnswer 执行流式问答。
// 检索阶段的错误（如文档未就绪）同步返回；流式阶段的任何失败都被
// 折叠进事件序列，不会再以错误形式抛出。
func (s *chatService) StreamAnswer(ctx context.Context, ownerID uint, documentID, question string, topK int) (<-chan StreamEvent, error) {
	fixed, prompt, sources, err := s.prepare(ctx, ownerID, documentID, question, topK)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 8)

	if fixed != "" {
		go func() {
			defer close(events)
			events <- StreamEvent{Type: EventDelta, Delta: fixed}
			events <- StreamEvent{Type: EventDone, Sources: []model.AnswerSource{}}
		}()
		return events, nil
	}

	go func() {
		defer close(events)

		var full strings.Builder
		streamErr := s.llmClient.Stream(ctx, prompt, func(delta string) error {
			full.WriteString(delta)
			select {
			case events <- StreamEvent{Type: EventDelta, Delta: delta}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

		switch {
		case streamErr == nil && ctx.Err() == nil:
			s.saveHistory(ownerID, documentID, question, full.String())
		case streamErr != nil && !errors.Is(streamErr, context.Canceled) && !errors.Is(streamErr, context.DeadlineExceeded):
			log.Errorf("流式生成回答失败, DocumentID: %s, Error: %v", documentID, streamErr)
			events <- StreamEvent{Type: EventError, Message: "生成回答失败，请稍后重试"}
		}

		// 无论正常结束、上游失败还是取消，done 事件都必须发出
		events <- StreamEvent{Type: EventDone, Sources: sources}
	}()
	return events, nil
}

// History 返回用户与指定文档的对话历史。
func (s *chatService) History(ctx context.Context, ownerID uint, documentID string) ([]model.ChatMessage, error) {
	return s.convRepo.GetHistory(ctx, ownerID, documentID)
}

// saveHistory 记录一轮问答。请求上下文可能已取消，这里使用独立上下文。
func (s *chatService) saveHistory(ownerID uint, documentID, question, answer string) {
	if answer == "" {
		return
	}
	if err := s.convRepo.AppendExchange(context.Background(), ownerID, documentID, question, answer); err != nil {
		log.Warnf("保存对话历史失败, DocumentID: %s, Error: %v", documentID, err)
	}
}
