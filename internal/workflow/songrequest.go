package workflow

import (
	"strings"

	"songrelay/backend/internal/domain"
)

// songRequestMachine 逐步收集一条点歌请求并在确认后投递。
// 限流和绑定可用性在进入流程时就校验，避免发送方填完表单才被拒绝。
// 投递只发生在最后一步确认之后，中途退出不会产生任何外部动作。
type songRequestMachine struct {
	ctx      Context
	services *Services

	step    songRequestStep
	request domain.SongRequest
}

type songRequestStep int

const (
	songRequestSong songRequestStep = iota
	songRequestArtist
	songRequestNotes
	songRequestConfirm
)

// NewSongRequest 创建点歌流程。
func NewSongRequest(ctx Context, services *Services) Machine {
	return &songRequestMachine{ctx: ctx, services: services}
}

func (m *songRequestMachine) Start() ([]Effect, bool) {
	user, err := m.services.Users.Get(m.ctx.UserID)
	if err != nil {
		return []Effect{Reply{Text: errorText(err)}}, true
	}

	if _, err := m.services.Bindings.Resolve(m.ctx.UserID); err != nil {
		return []Effect{Reply{Text: errorText(err) + " Use \"set-recipient-code\" to bind to a recipient."}}, true
	}

	if err := m.services.Requests.CheckRate(m.ctx.UserID); err != nil {
		return []Effect{Reply{Text: errorText(err)}}, true
	}

	m.request = domain.SongRequest{
		SenderID:       m.ctx.UserID,
		SenderNickname: user.DisplayName(),
	}
	m.step = songRequestSong
	return []Effect{Prompt{Text: "What song would you like to request?"}}, false
}

func (m *songRequestMachine) Advance(ev Event) ([]Effect, bool) {
	switch m.step {
	case songRequestSong:
		return m.advanceSong(ev)
	case songRequestArtist:
		return m.advanceArtist(ev)
	case songRequestNotes:
		return m.advanceNotes(ev)
	default:
		return m.advanceConfirm(ev)
	}
}

func (m *songRequestMachine) advanceSong(ev Event) ([]Effect, bool) {
	song := strings.TrimSpace(ev.Text)
	if song == "" {
		return []Effect{Prompt{Text: "What song would you like to request?"}}, false
	}
	m.request.Song = song
	m.step = songRequestArtist
	return []Effect{Prompt{Text: "Who is the artist?"}}, false
}

func (m *songRequestMachine) advanceArtist(ev Event) ([]Effect, bool) {
	artist := strings.TrimSpace(ev.Text)
	if artist == "" {
		return []Effect{Prompt{Text: "Who is the artist?"}}, false
	}
	m.request.Artist = artist
	m.step = songRequestNotes
	return []Effect{Prompt{
		Text: "Any notes for the recipient? Send them now, or skip.",
		Choices: []Choice{
			{Value: "skip", Label: "Skip"},
		},
	}}, false
}

func (m *songRequestMachine) advanceNotes(ev Event) ([]Effect, bool) {
	notes := strings.TrimSpace(ev.Text)
	if ev.Kind == EventChoice && ev.Choice == "skip" {
		notes = ""
	}
	if err := domain.ValidateNotes(notes); err != nil {
		return []Effect{Prompt{Text: errorText(err) + " Try shorter notes, or skip.",
			Choices: []Choice{
				{Value: "skip", Label: "Skip"},
			},
		}}, false
	}

	m.request.Notes = notes
	m.step = songRequestConfirm
	return []Effect{Prompt{
		Text: m.request.RenderConfirmation(),
		Choices: []Choice{
			{Value: "send", Label: "Send"},
			{Value: "discard", Label: "Discard"},
		},
	}}, false
}

func (m *songRequestMachine) advanceConfirm(ev Event) ([]Effect, bool) {
	switch ev.Choice {
	case "send":
		if err := m.services.Requests.Submit(&m.request); err != nil {
			return []Effect{Reply{Text: errorText(err)}}, true
		}
		return []Effect{Reply{Text: "Your song request has been sent!"}}, true
	case "discard":
		return []Effect{Reply{Text: "Request discarded."}}, true
	default:
		return []Effect{Prompt{
			Text: "Please choose Send or Discard.",
			Choices: []Choice{
				{Value: "send", Label: "Send"},
				{Value: "discard", Label: "Discard"},
			},
		}}, false
	}
}
