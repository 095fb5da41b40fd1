package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"songrelay/backend/internal/auth"
	"songrelay/backend/internal/monitoring"
	"songrelay/backend/internal/transport"
	"songrelay/backend/internal/workflow"
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 同源请求放行
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// Hub 管理全部网关连接，并承担两个角色：
// 把流程引擎的效果送回用户（workflow.Sink），
// 把点歌请求和清理提醒投进目标会话（transport.Notifier）。
type Hub struct {
	clients map[string]*Client            // clientID -> Client
	users   map[string]map[string]*Client // userID -> clientID -> Client
	chats   map[string]map[string]*Client // chatID -> clientID -> Client

	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	engine  *workflow.Engine
	tokens  *auth.Manager
	metrics *monitoring.Metrics
	log     *zap.Logger

	allowedOrigins []string
}

var _ transport.Notifier = (*Hub)(nil)
var _ workflow.Sink = (*Hub)(nil)

// NewHub 创建网关 Hub。
func NewHub(engine *workflow.Engine, tokens *auth.Manager, metrics *monitoring.Metrics, allowedOrigins []string, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Hub{
		clients:        make(map[string]*Client),
		users:          make(map[string]map[string]*Client),
		chats:          make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		engine:         engine,
		tokens:         tokens,
		metrics:        metrics,
		log:            log,
		allowedOrigins: allowedOrigins,
	}
}

// Run 启动 Hub。
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("gateway hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	if h.users[client.UserID] == nil {
		h.users[client.UserID] = make(map[string]*Client)
	}
	h.users[client.UserID][client.ID] = client
	// 私聊会话随连接自动加入
	h.joinChatLocked(client, client.privateChatID())
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.GatewayConnections.Inc()
	}
	h.log.Info("client connected",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	for chatID := range client.chats {
		if members, exists := h.chats[chatID]; exists {
			delete(members, client.ID)
			if len(members) == 0 {
				delete(h.chats, chatID)
			}
		}
	}
	if conns, ok := h.users[client.UserID]; ok {
		delete(conns, client.ID)
		if len(conns) == 0 {
			delete(h.users, client.UserID)
		}
	}
	delete(h.clients, client.ID)
	close(client.send)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.GatewayConnections.Dec()
	}
	h.log.Info("client disconnected", zap.String("client_id", client.ID))
}

// joinChatLocked 把客户端加入会话，调用方持有写锁。
func (h *Hub) joinChatLocked(client *Client, chatID string) {
	client.chats[chatID] = true
	if h.chats[chatID] == nil {
		h.chats[chatID] = make(map[string]*Client)
	}
	h.chats[chatID][client.ID] = client
}

func (h *Hub) joinChat(client *Client, chatID string) {
	h.mu.Lock()
	h.joinChatLocked(client, chatID)
	h.mu.Unlock()
}

func (h *Hub) leaveChat(client *Client, chatID string) {
	h.mu.Lock()
	delete(client.chats, chatID)
	if members, exists := h.chats[chatID]; exists {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.chats, chatID)
		}
	}
	h.mu.Unlock()
}

// Deliver 把流程效果发给用户的所有连接。
func (h *Hub) Deliver(sessionID string, effects []workflow.Effect) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.users[sessionID]))
	for _, client := range h.users[sessionID] {
		conns = append(conns, client)
	}
	h.mu.RUnlock()

	for _, effect := range effects {
		var out Outbound
		switch e := effect.(type) {
		case workflow.Reply:
			out = Outbound{Type: OutboundReply, Text: e.Text, Timestamp: time.Now()}
		case workflow.Prompt:
			out = Outbound{Type: OutboundPrompt, Text: e.Text, Choices: e.Choices, Timestamp: time.Now()}
		default:
			h.log.Warn("unknown effect type", zap.Any("effect", effect))
			continue
		}

		data, err := json.Marshal(out)
		if err != nil {
			h.log.Error("failed to marshal effect", zap.Error(err))
			continue
		}
		for _, client := range conns {
			client.enqueue(data)
		}
	}
}

// Notify 把一条通知投进目标会话。没有任何成员在线时不可达，
// 所有成员的发送缓冲都满时视为瞬时失败，调用方可以重试。
func (h *Hub) Notify(destination, text string) transport.Outcome {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.chats[destination]))
	for _, client := range h.chats[destination] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	if len(members) == 0 {
		if h.metrics != nil {
			h.metrics.NoticesUndeliverable.Inc()
		}
		return transport.OutcomeUnreachable
	}

	out := Outbound{
		Type:      OutboundNotice,
		ChatID:    destination,
		Text:      text,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(out)
	if err != nil {
		h.log.Error("failed to marshal notice", zap.Error(err))
		return transport.OutcomeTransientFailure
	}

	delivered := false
	for _, client := range members {
		if client.enqueue(data) {
			delivered = true
		}
	}
	if !delivered {
		return transport.OutcomeTransientFailure
	}

	if h.metrics != nil {
		h.metrics.NoticesDelivered.Inc()
	}
	return transport.OutcomeDelivered
}

func (h *Hub) pingAllClients() {
	out := Outbound{Type: OutboundPing, Timestamp: time.Now()}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		client.enqueue(data)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.users = make(map[string]map[string]*Client)
	h.chats = make(map[string]map[string]*Client)
}

// identify 解析连接身份。带有效令牌的连接恢复原有身份，
// 否则分配新身份并签发令牌。
func (h *Hub) identify(c *gin.Context) (userID, token string, fresh bool, err error) {
	token = c.Query("token")
	if token != "" {
		userID, err = h.tokens.Validate(token)
		if err == nil {
			return userID, token, false, nil
		}
		h.log.Debug("session token rejected", zap.Error(err))
	}

	userID = uuid.NewString()
	token, err = h.tokens.Issue(userID)
	if err != nil {
		return "", "", false, err
	}
	return userID, token, true, nil
}

// HandleWebSocket 处理网关连接升级。
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		userID, token, fresh, err := hub.identify(c)
		if err != nil {
			hub.log.Error("failed to establish identity", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not establish session"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := newClient(hub, conn, userID, c.Query("nickname"))
		hub.register <- client

		go client.writePump()
		go client.readPump()

		welcome := Outbound{
			Type:      OutboundWelcome,
			UserID:    userID,
			Timestamp: time.Now(),
		}
		if fresh {
			welcome.Token = token
		}
		if data, err := json.Marshal(welcome); err == nil {
			client.enqueue(data)
		}
	}
}
