package workflow

// Effect 表示流程推进后要对会话产生的外部动作。
// 引擎把效果交给网关投递，流程本身不持有任何连接。
type Effect interface {
	effect()
}

// Choice 提示中的一个可选项。Value 会原样回传到下一个事件里。
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Prompt 向会话发送一条带选项的提问，流程等待下一个输入。
type Prompt struct {
	Text    string   `json:"text"`
	Choices []Choice `json:"choices,omitempty"`
}

func (Prompt) effect() {}

// Reply 向会话发送一条普通消息，不等待输入。
type Reply struct {
	Text string `json:"text"`
}

func (Reply) effect() {}

// 常用的是/否选项组
var yesNoChoices = []Choice{
	{Value: "yes", Label: "Yes"},
	{Value: "no", Label: "No"},
}
