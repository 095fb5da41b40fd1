package ws

import (
	"time"

	"songrelay/backend/internal/workflow"
)

// InboundType 客户端消息类型
type InboundType string

const (
	// InboundCommand 网关命令
	InboundCommand InboundType = "command"
	// InboundText 自由文本输入
	InboundText InboundType = "text"
	// InboundChoice 对提示选项的选择
	InboundChoice InboundType = "choice"
	// InboundJoin 加入一个会话（群聊）
	InboundJoin InboundType = "join"
	// InboundLeave 离开一个会话
	InboundLeave InboundType = "leave"
	// InboundPong 心跳应答
	InboundPong InboundType = "pong"
)

// Inbound 客户端发来的消息。ChatID 为空表示来自与网关的私聊。
type Inbound struct {
	Type     InboundType `json:"type"`
	Command  string      `json:"command,omitempty"`
	Text     string      `json:"text,omitempty"`
	Choice   string      `json:"choice,omitempty"`
	ChatID   string      `json:"chatId,omitempty"`
	ChatKind string      `json:"chatKind,omitempty"`
}

// OutboundType 服务端消息类型
type OutboundType string

const (
	// OutboundWelcome 连接建立后的身份下发
	OutboundWelcome OutboundType = "welcome"
	// OutboundReply 普通回复
	OutboundReply OutboundType = "reply"
	// OutboundPrompt 带选项的提问
	OutboundPrompt OutboundType = "prompt"
	// OutboundNotice 投递进会话的通知（点歌请求、过期提醒）
	OutboundNotice OutboundType = "notice"
	// OutboundPing 心跳
	OutboundPing OutboundType = "ping"
	// OutboundError 错误
	OutboundError OutboundType = "error"
)

// Outbound 服务端发给客户端的消息。
type Outbound struct {
	Type      OutboundType      `json:"type"`
	Text      string            `json:"text,omitempty"`
	Choices   []workflow.Choice `json:"choices,omitempty"`
	ChatID    string            `json:"chatId,omitempty"`
	UserID    string            `json:"userId,omitempty"`
	Token     string            `json:"token,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
