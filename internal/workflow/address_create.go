package workflow

import (
	"fmt"
	"strings"

	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/service"
)

// addressCreateMachine 引导收信会话创建一个新的转发码：
// 码的来源（随机或自定义）、有效期、可选口令，最后落库并确认。
type addressCreateMachine struct {
	ctx      Context
	services *Services

	step  addressCreateStep
	input service.CreateAddressInput
}

type addressCreateStep int

const (
	addressCreateChooseType addressCreateStep = iota
	addressCreateEnterCode
	addressCreateChooseValidity
	addressCreatePasswordFlag
	addressCreateEnterPassword
)

var validityChoices = []Choice{
	{Value: string(domain.ValidityOneDay), Label: "1 day"},
	{Value: string(domain.ValidityThreeDays), Label: "3 days"},
	{Value: string(domain.ValiditySevenDays), Label: "7 days"},
	{Value: string(domain.ValidityThirtyDays), Label: "30 days"},
	{Value: string(domain.ValidityIndefinite), Label: "Indefinitely"},
}

// NewAddressCreate 创建转发码创建流程。
func NewAddressCreate(ctx Context, services *Services) Machine {
	return &addressCreateMachine{ctx: ctx, services: services}
}

func (m *addressCreateMachine) Start() ([]Effect, bool) {
	if !m.services.Recipients.IsRegistered(m.ctx.ChatID) {
		return []Effect{Reply{Text: "This chat is not registered as a recipient. Send \"register-as-recipient\" first."}}, true
	}

	// 名额在进入流程时就检查，落库前会再查一次
	count, err := m.services.Addresses.LiveCount(m.ctx.ChatID)
	if err != nil {
		return []Effect{Reply{Text: errorText(err)}}, true
	}
	if count >= domain.MaxAddressesPerOwner {
		return []Effect{Reply{Text: errorText(domain.ErrOwnerLimitExceeded)}}, true
	}

	m.input = service.CreateAddressInput{ChatID: m.ctx.ChatID}
	m.step = addressCreateChooseType
	return []Effect{Prompt{
		Text: "Generate a random code, or pick your own?",
		Choices: []Choice{
			{Value: "random", Label: "Random"},
			{Value: "custom", Label: "Custom"},
		},
	}}, false
}

func (m *addressCreateMachine) Advance(ev Event) ([]Effect, bool) {
	switch m.step {
	case addressCreateChooseType:
		return m.advanceType(ev)
	case addressCreateEnterCode:
		return m.advanceCode(ev)
	case addressCreateChooseValidity:
		return m.advanceValidity(ev)
	case addressCreatePasswordFlag:
		return m.advancePasswordFlag(ev)
	default:
		return m.advancePassword(ev)
	}
}

func (m *addressCreateMachine) advanceType(ev Event) ([]Effect, bool) {
	switch ev.Choice {
	case "random":
		return m.promptValidity()
	case "custom":
		m.step = addressCreateEnterCode
		return []Effect{Prompt{Text: "Send your desired code."}}, false
	default:
		return []Effect{Prompt{
			Text: "Please choose Random or Custom.",
			Choices: []Choice{
				{Value: "random", Label: "Random"},
				{Value: "custom", Label: "Custom"},
			},
		}}, false
	}
}

func (m *addressCreateMachine) advanceCode(ev Event) ([]Effect, bool) {
	code := strings.TrimSpace(ev.Text)
	if code == "" {
		return []Effect{Prompt{Text: "Send your desired code."}}, false
	}
	if m.services.Addresses.CodeExists(code) {
		return []Effect{Prompt{Text: "That code is already taken. Try another one."}}, false
	}
	m.input.Code = code
	return m.promptValidity()
}

func (m *addressCreateMachine) promptValidity() ([]Effect, bool) {
	m.step = addressCreateChooseValidity
	return []Effect{Prompt{
		Text:    "How long should the code stay valid?",
		Choices: validityChoices,
	}}, false
}

func (m *addressCreateMachine) advanceValidity(ev Event) ([]Effect, bool) {
	validity := domain.Validity(ev.Choice)
	if !validity.Valid() {
		return []Effect{Prompt{
			Text:    "Please pick one of the offered validity periods.",
			Choices: validityChoices,
		}}, false
	}
	m.input.Validity = validity
	m.step = addressCreatePasswordFlag
	return []Effect{Prompt{
		Text:    "Protect the code with a password?",
		Choices: yesNoChoices,
	}}, false
}

func (m *addressCreateMachine) advancePasswordFlag(ev Event) ([]Effect, bool) {
	switch ev.Choice {
	case "yes":
		m.step = addressCreateEnterPassword
		return []Effect{Prompt{Text: "Send the password."}}, false
	case "no":
		return m.finalize()
	default:
		return []Effect{Prompt{
			Text:    "Please choose Yes or No. Protect the code with a password?",
			Choices: yesNoChoices,
		}}, false
	}
}

func (m *addressCreateMachine) advancePassword(ev Event) ([]Effect, bool) {
	password := ev.Text
	if strings.TrimSpace(password) == "" {
		return []Effect{Prompt{Text: "A password can't be empty. Send the password."}}, false
	}
	m.input.Password = password
	return m.finalize()
}

func (m *addressCreateMachine) finalize() ([]Effect, bool) {
	address, err := m.services.Addresses.Create(m.input)
	if err != nil {
		return []Effect{Reply{Text: errorText(err)}}, true
	}

	validity := "valid indefinitely"
	if address.ValidUntil != nil {
		validity = "valid until " + address.ValidUntil.Format("2006-01-02 15:04")
	}
	protected := ""
	if address.HasPassword() {
		protected = fmt.Sprintf(", password protected: %q", m.input.Password)
	}
	return []Effect{Reply{
		Text: fmt.Sprintf("Address created: %s (%s%s). Share this code with your senders.", address.Code, validity, protected),
	}}, true
}
