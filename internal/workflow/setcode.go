package workflow

import (
	"errors"
	"fmt"
	"strings"

	"songrelay/backend/internal/domain"
)

// maxPasswordAttempts 绑定口令保护的码时允许的最大尝试次数。
const maxPasswordAttempts = 3

// setCodeMachine 引导发送方绑定接收方的转发码。
// 已有绑定时先确认是否替换；带口令的码限定尝试次数。
type setCodeMachine struct {
	ctx      Context
	services *Services

	step     setCodeStep
	code     string
	attempts int
}

type setCodeStep int

const (
	setCodeConfirmReplace setCodeStep = iota
	setCodeEnterCode
	setCodeEnterPassword
)

// NewSetCode 创建转发码绑定流程。
func NewSetCode(ctx Context, services *Services) Machine {
	return &setCodeMachine{ctx: ctx, services: services}
}

func (m *setCodeMachine) Start() ([]Effect, bool) {
	if !m.services.Users.IsRegistered(m.ctx.UserID) {
		return []Effect{Reply{Text: errorText(domain.ErrNotRegistered)}}, true
	}

	if m.services.Bindings.Has(m.ctx.UserID) {
		m.step = setCodeConfirmReplace
		return []Effect{Prompt{
			Text:    "You already have a recipient code set. Replace it?",
			Choices: yesNoChoices,
		}}, false
	}

	m.step = setCodeEnterCode
	return []Effect{Prompt{Text: "Send the recipient's address code."}}, false
}

func (m *setCodeMachine) Advance(ev Event) ([]Effect, bool) {
	switch m.step {
	case setCodeConfirmReplace:
		return m.advanceConfirm(ev)
	case setCodeEnterCode:
		return m.advanceCode(ev)
	default:
		return m.advancePassword(ev)
	}
}

func (m *setCodeMachine) advanceConfirm(ev Event) ([]Effect, bool) {
	switch ev.Choice {
	case "yes":
		m.step = setCodeEnterCode
		return []Effect{Prompt{Text: "Send the recipient's address code."}}, false
	case "no":
		return []Effect{Reply{Text: "Keeping your current code."}}, true
	default:
		return []Effect{Prompt{
			Text:    "Please choose Yes or No. Replace your current recipient code?",
			Choices: yesNoChoices,
		}}, false
	}
}

func (m *setCodeMachine) advanceCode(ev Event) ([]Effect, bool) {
	code := strings.TrimSpace(ev.Text)
	if code == "" {
		return []Effect{Prompt{Text: "Send the recipient's address code."}}, false
	}

	address, err := m.services.Addresses.Get(code)
	if err != nil {
		if errors.Is(err, domain.ErrAddressNotFound) {
			return []Effect{Prompt{Text: "That code doesn't exist. Try another code, or send \"cancel\" to stop."}}, false
		}
		return []Effect{Reply{Text: errorText(err)}}, true
	}

	m.code = code
	if address.HasPassword() {
		m.step = setCodeEnterPassword
		return []Effect{Prompt{Text: "This code is password protected. Enter the password."}}, false
	}

	return m.bind("")
}

func (m *setCodeMachine) advancePassword(ev Event) ([]Effect, bool) {
	effects, done := m.bind(ev.Text)
	if done {
		return effects, true
	}

	m.attempts++
	if m.attempts >= maxPasswordAttempts {
		return []Effect{Reply{Text: errorText(domain.ErrTooManyAttempts)}}, true
	}
	return []Effect{Prompt{
		Text: fmt.Sprintf("Wrong password. %d attempts left.", maxPasswordAttempts-m.attempts),
	}}, false
}

// bind 执行绑定。口令不匹配时返回 done=false，让调用方计数重试。
func (m *setCodeMachine) bind(password string) ([]Effect, bool) {
	err := m.services.Bindings.Bind(m.ctx.UserID, m.code, password)
	if err == nil {
		return []Effect{Reply{Text: "Recipient code set. You can now send song requests."}}, true
	}
	if errors.Is(err, domain.ErrPasswordMismatch) {
		return nil, false
	}
	return []Effect{Reply{Text: errorText(err)}}, true
}
