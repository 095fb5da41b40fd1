package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/workflow"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256

	// 每连接的输入速率上限，防止单个客户端刷屏
	inboundRate  = 5
	inboundBurst = 10
)

// Client 代表一条网关连接。
type Client struct {
	ID       string
	UserID   string
	Nickname string

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	chats   map[string]bool // 已加入的会话，只在 hub 锁内访问
	log     *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, userID, nickname string) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Nickname: nickname,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		limiter:  rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
		chats:    make(map[string]bool),
		log:      hub.log,
	}
}

// privateChatID 用户与网关私聊会话的标识。
func (c *Client) privateChatID() string {
	return "private:" + c.UserID
}

// enqueue 把一条已编码的消息放进发送队列，缓冲满时丢弃。
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn("client send buffer full, dropping message",
			zap.String("client_id", c.ID))
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}
		c.handleInbound(&msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleInbound(msg *Inbound) {
	if msg.Type == InboundPong {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return
	}

	if !c.limiter.Allow() {
		if c.hub.metrics != nil {
			c.hub.metrics.InboundThrottled.Inc()
		}
		c.sendError("slow down, you're sending messages too fast")
		return
	}

	if c.hub.metrics != nil {
		c.hub.metrics.InboundMessages.WithLabelValues(string(msg.Type)).Inc()
	}

	switch msg.Type {
	case InboundJoin:
		if msg.ChatID == "" {
			c.sendError("chat ID is required")
			return
		}
		c.hub.joinChat(c, msg.ChatID)

	case InboundLeave:
		if msg.ChatID == "" {
			c.sendError("chat ID is required")
			return
		}
		c.hub.leaveChat(c, msg.ChatID)

	case InboundCommand:
		c.hub.engine.HandleCommand(c.workflowContext(msg), msg.Command)

	case InboundText:
		c.hub.engine.HandleEvent(c.workflowContext(msg), workflow.TextEvent(msg.Text))

	case InboundChoice:
		c.hub.engine.HandleEvent(c.workflowContext(msg), workflow.ChoiceEvent(msg.Choice))

	default:
		c.log.Warn("unknown message type", zap.String("type", string(msg.Type)))
	}
}

// workflowContext 把一条输入映射成流程上下文。
// 没有标注会话的输入都算作与网关的私聊。
func (c *Client) workflowContext(msg *Inbound) workflow.Context {
	chatID := msg.ChatID
	kind := domain.ChatKind(msg.ChatKind)
	if chatID == "" {
		chatID = c.privateChatID()
		kind = domain.ChatKindPrivate
	} else if kind != domain.ChatKindPrivate {
		kind = domain.ChatKindGroup
	}

	return workflow.Context{
		SessionID: c.UserID,
		UserID:    c.UserID,
		ChatID:    chatID,
		ChatKind:  kind,
		Nickname:  c.Nickname,
	}
}

func (c *Client) sendError(text string) {
	out := Outbound{
		Type:      OutboundError,
		Error:     text,
		Timestamp: time.Now(),
	}
	if data, err := json.Marshal(out); err == nil {
		c.enqueue(data)
	}
}
