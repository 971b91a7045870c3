package handler

import (
	"net/http"

	"documind-go/internal/notify"
	"documind-go/pkg/log"
	"documind-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// WSHandler 负责建立进度推送的 WebSocket 连接。
type WSHandler struct {
	hub        *notify.Hub
	jwtManager *token.JWTManager
}

// NewWSHandler 创建一个新的 WSHandler。
func NewWSHandler(hub *notify.Hub, jwtManager *token.JWTManager) *WSHandler {
	return &WSHandler{hub: hub, jwtManager: jwtManager}
}

// Handle 处理 /ws?token=<jwt> 连接请求。
// 浏览器的 WebSocket API 不支持自定义请求头，token 从查询参数传入。
func (h *WSHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	h.hub.Register(claims.UserID, conn)
	defer h.hub.Unregister(claims.UserID, conn)
	log.Infof("WebSocket 连接已建立, 用户: %s", claims.Username)

	// 连接只用于服务端推送，读循环仅用于感知客户端关闭
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Infof("WebSocket 连接关闭, 用户: %s", claims.Username)
			return
		}
	}
}
