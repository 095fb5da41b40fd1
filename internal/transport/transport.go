// Package transport 定义投递协作方的抽象接口。
// 具体的聊天网关实现位于子包中，业务层只依赖这里的定义。
package transport

// Outcome 表示一次投递的结果
type Outcome int

const (
	// OutcomeDelivered 投递成功
	OutcomeDelivered Outcome = iota
	// OutcomeUnreachable 接收方不可达（没有在线会话）
	OutcomeUnreachable
	// OutcomeTransientFailure 瞬时失败，允许重试一次
	OutcomeTransientFailure
)

// String 返回投递结果的文本描述。
func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeTransientFailure:
		return "transient_failure"
	}
	return "unknown"
}

// Notifier 把一段文本投递到目标会话。实现必须是并发安全的，
// 且不能阻塞在网络 I/O 之外的等待上。
type Notifier interface {
	Notify(destination, text string) Outcome
}
