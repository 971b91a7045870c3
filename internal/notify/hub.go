// Package notify 通过 WebSocket 将文档处理进度推送给在线用户。
package notify

import (
	"sync"

	"documind-go/pkg/log"

	"github.com/gorilla/websocket"
)

// ProgressUpdate 是推送给前端的一条进度消息。
type ProgressUpdate struct {
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	Error      string `json:"error,omitempty"`
}

// Notifier 定义了进度通知的抽象。
// 摄取流程通过它上报进度，不关心推送通道的实现。
type Notifier interface {
	NotifyProgress(ownerID uint, update ProgressUpdate)
}

// Hub 维护所有在线用户的 WebSocket 连接，按用户 ID 分组。
// 同一用户可以有多个连接（多个标签页），进度会广播到每一个。
type Hub struct {
	mu    sync.RWMutex
	conns map[uint]map[*websocket.Conn]struct{}
}

// NewHub 创建一个新的连接中心。
func NewHub() *Hub {
	return &Hub{conns: make(map[uint]map[*websocket.Conn]struct{})}
}

// Register 登记一个用户连接。
func (h *Hub) Register(ownerID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[ownerID] == nil {
		h.conns[ownerID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[ownerID][conn] = struct{}{}
}

// Unregister 注销一个用户连接。
func (h *Hub) Unregister(ownerID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[ownerID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, ownerID)
		}
	}
}

// NotifyProgress 向指定用户的所有连接推送一条进度消息。
// 用户不在线时静默丢弃；单个连接写失败只影响该连接。
func (h *Hub) NotifyProgress(ownerID uint, update ProgressUpdate) {
	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.conns[ownerID]))
	for conn := range h.conns[ownerID] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.WriteJSON(update); err != nil {
			log.Warnf("推送进度消息失败, userID: %d, documentID: %s, error: %v", ownerID, update.DocumentID, err)
		}
	}
}
