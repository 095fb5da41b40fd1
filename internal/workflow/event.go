package workflow

// EventKind 会话输入事件的类型
type EventKind string

const (
	// EventText 自由文本输入
	EventText EventKind = "text"
	// EventChoice 从提示选项中做出的选择
	EventChoice EventKind = "choice"
)

// Event 表示一条进入会话流程的输入。
type Event struct {
	Kind   EventKind
	Text   string // Kind 为 text 时的原始文本
	Choice string // Kind 为 choice 时所选项的值
}

// TextEvent 构造文本输入事件。
func TextEvent(text string) Event {
	return Event{Kind: EventText, Text: text}
}

// ChoiceEvent 构造选项输入事件。
func ChoiceEvent(value string) Event {
	return Event{Kind: EventChoice, Choice: value}
}
