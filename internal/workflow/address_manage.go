package workflow

import (
	"fmt"

	"songrelay/backend/internal/storage"
)

// AddressAction 管理流程对选中转发码执行的动作
type AddressAction string

const (
	// ActionToggle 翻转启用标记
	ActionToggle AddressAction = "toggle"
	// ActionRemove 把有效期提前到当前时刻，记录进入宽限期
	ActionRemove AddressAction = "remove"
	// ActionRelease 立即永久删除
	ActionRelease AddressAction = "release"
)

// addressManageMachine 是删除、启停、释放三个管理操作共用的流程：
// 先从本会话的码里选一个，再确认，最后执行动作。
type addressManageMachine struct {
	ctx      Context
	services *Services
	action   AddressAction

	step addressManageStep
	code string
}

type addressManageStep int

const (
	addressManageChoose addressManageStep = iota
	addressManageConfirm
)

// NewAddressManage 创建转发码管理流程。
func NewAddressManage(ctx Context, services *Services, action AddressAction) Machine {
	return &addressManageMachine{ctx: ctx, services: services, action: action}
}

func (m *addressManageMachine) Start() ([]Effect, bool) {
	if !m.services.Recipients.IsRegistered(m.ctx.ChatID) {
		return []Effect{Reply{Text: "This chat is not registered as a recipient. Send \"register-as-recipient\" first."}}, true
	}

	addresses, err := m.services.Addresses.ListForOwner(m.ctx.ChatID, storage.FilterLive)
	if err != nil {
		return []Effect{Reply{Text: errorText(err)}}, true
	}
	if len(addresses) == 0 {
		return []Effect{Reply{Text: "You don't have any addresses yet."}}, true
	}

	choices := make([]Choice, 0, len(addresses))
	for _, address := range addresses {
		choices = append(choices, Choice{Value: address.Code, Label: address.Code})
	}

	m.step = addressManageChoose
	return []Effect{Prompt{
		Text:    fmt.Sprintf("Which address do you want to %s?", m.verb()),
		Choices: choices,
	}}, false
}

func (m *addressManageMachine) Advance(ev Event) ([]Effect, bool) {
	if m.step == addressManageChoose {
		return m.advanceChoose(ev)
	}
	return m.advanceConfirm(ev)
}

func (m *addressManageMachine) advanceChoose(ev Event) ([]Effect, bool) {
	if ev.Kind != EventChoice || ev.Choice == "" {
		return []Effect{Reply{Text: "Please pick an address from the list, or send \"cancel\"."}}, false
	}

	m.code = ev.Choice
	m.step = addressManageConfirm
	return []Effect{Prompt{
		Text:    fmt.Sprintf("Are you sure you want to %s %s?", m.verb(), m.code),
		Choices: yesNoChoices,
	}}, false
}

func (m *addressManageMachine) advanceConfirm(ev Event) ([]Effect, bool) {
	switch ev.Choice {
	case "yes":
		return m.apply()
	case "no":
		return []Effect{Reply{Text: "Nothing changed."}}, true
	default:
		return []Effect{Prompt{
			Text:    fmt.Sprintf("Please choose Yes or No. %s %s?", m.verb(), m.code),
			Choices: yesNoChoices,
		}}, false
	}
}

func (m *addressManageMachine) apply() ([]Effect, bool) {
	switch m.action {
	case ActionToggle:
		active, err := m.services.Addresses.Toggle(m.code)
		if err != nil {
			return []Effect{Reply{Text: errorText(err)}}, true
		}
		state := "disabled"
		if active {
			state = "enabled"
		}
		return []Effect{Reply{Text: fmt.Sprintf("Address %s is now %s.", m.code, state)}}, true

	case ActionRemove:
		if err := m.services.Addresses.ExpireNow(m.code); err != nil {
			return []Effect{Reply{Text: errorText(err)}}, true
		}
		return []Effect{Reply{
			Text: fmt.Sprintf("Address %s has been removed. It will be released for reuse after the grace period.", m.code),
		}}, true

	default:
		if err := m.services.Addresses.Release(m.code); err != nil {
			return []Effect{Reply{Text: errorText(err)}}, true
		}
		return []Effect{Reply{Text: fmt.Sprintf("Address %s has been permanently released.", m.code)}}, true
	}
}

// verb 动作对应的动词，用在提示文案里。
func (m *addressManageMachine) verb() string {
	switch m.action {
	case ActionToggle:
		return "toggle"
	case ActionRemove:
		return "remove"
	default:
		return "release"
	}
}
