package workflow

import (
	"fmt"
	"strings"

	"songrelay/backend/internal/domain"
)

// registrationMachine 引导发送方完成注册，昵称可跳过。
type registrationMachine struct {
	ctx      Context
	services *Services
}

// NewRegistration 创建注册流程。
func NewRegistration(ctx Context, services *Services) Machine {
	return &registrationMachine{ctx: ctx, services: services}
}

func (m *registrationMachine) Start() ([]Effect, bool) {
	if m.services.Users.IsRegistered(m.ctx.UserID) {
		return []Effect{Reply{Text: "You are already registered."}}, true
	}
	return []Effect{Prompt{
		Text: "What should I call you? Send a nickname, or skip to stay anonymous.",
		Choices: []Choice{
			{Value: "skip", Label: "Skip"},
		},
	}}, false
}

func (m *registrationMachine) Advance(ev Event) ([]Effect, bool) {
	nickname := strings.TrimSpace(ev.Text)
	if ev.Kind == EventChoice && ev.Choice == "skip" {
		nickname = ""
	}

	user, err := m.services.Users.Register(m.ctx.UserID, nickname)
	if err != nil {
		return []Effect{Reply{Text: errorText(err)}}, true
	}

	return []Effect{Reply{
		Text: fmt.Sprintf("Welcome, %s! Use \"set-recipient-code\" to bind to a recipient, then \"submit-song-request\" to send requests.", user.DisplayName()),
	}}, true
}

// nicknameMachine 修改发送方昵称。
type nicknameMachine struct {
	ctx      Context
	services *Services
}

// NewNicknameChange 创建昵称修改流程。
func NewNicknameChange(ctx Context, services *Services) Machine {
	return &nicknameMachine{ctx: ctx, services: services}
}

func (m *nicknameMachine) Start() ([]Effect, bool) {
	if !m.services.Users.IsRegistered(m.ctx.UserID) {
		return []Effect{Reply{Text: errorText(domain.ErrNotRegistered)}}, true
	}
	return []Effect{Prompt{Text: "Send your new nickname."}}, false
}

func (m *nicknameMachine) Advance(ev Event) ([]Effect, bool) {
	nickname := strings.TrimSpace(ev.Text)
	if nickname == "" {
		return []Effect{Prompt{Text: "A nickname can't be empty. Send your new nickname."}}, false
	}

	if err := m.services.Users.ChangeNickname(m.ctx.UserID, nickname); err != nil {
		return []Effect{Reply{Text: errorText(err)}}, true
	}
	return []Effect{Reply{Text: fmt.Sprintf("Nickname updated to %s.", nickname)}}, true
}
