package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"documind-go/internal/middleware"
	"documind-go/internal/service"
	"documind-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 负责文档问答相关的请求。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

type chatRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"topK"`
}

// Answer 执行单次完整问答。
func (h *ChatHandler) Answer(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	result, err := h.chatService.Answer(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req.Question, req.TopK)
	if errors.Is(err, service.ErrDocumentNotReady) {
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "文档尚未完成处理", "data": nil})
		return
	}
	if err != nil {
		log.Errorf("问答失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "生成回答失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// StreamAnswer 以 SSE 方式执行流式问答。
// 事件序列为零或多个 delta，之后可能有一个 error，最后恰好一个 done。
// 客户端断开时请求上下文被取消，取消信号会传导到模型调用。
func (h *ChatHandler) StreamAnswer(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	events, err := h.chatService.StreamAnswer(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"), req.Question, req.TopK)
	if errors.Is(err, service.ErrDocumentNotReady) {
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "文档尚未完成处理", "data": nil})
		return
	}
	if err != nil {
		log.Errorf("发起流式问答失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "生成回答失败", "data": nil})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	// 即使客户端已断开也要把通道读完，done 事件才能被服务层发出
	for ev := range events {
		switch ev.Type {
		case service.EventDelta:
			writeSSE(c, "delta", gin.H{"text": ev.Delta})
		case service.EventError:
			writeSSE(c, "error", gin.H{"message": ev.Message})
		case service.EventDone:
			writeSSE(c, "done", gin.H{"sources": ev.Sources})
		}
	}
}

// writeSSE 写出一条 SSE 事件；客户端断开导致的写失败只记录不中断。
func writeSSE(c *gin.Context, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("序列化 SSE 事件失败: %v", err)
		return
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	c.Writer.Flush()
}

// History 返回当前用户与该文档的对话历史。
func (h *ChatHandler) History(c *gin.Context) {
	messages, err := h.chatService.History(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询对话历史失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}
