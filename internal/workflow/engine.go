package workflow

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"songrelay/backend/internal/domain"
)

// 网关命令名
const (
	CmdRegister            = "register"
	CmdChangeNickname      = "change-nickname"
	CmdSetRecipientCode    = "set-recipient-code"
	CmdSubmitSongRequest   = "submit-song-request"
	CmdRegisterAsRecipient = "register-as-recipient"
	CmdCreateAddress       = "create-address"
	CmdListAddresses       = "list-addresses"
	CmdToggleAddress       = "toggle-address"
	CmdRemoveAddress       = "remove-address"
	CmdReleaseAddress      = "release-address"
	CmdCancel              = "cancel"
	CmdHelp                = "help"
)

// Sink 把流程产生的效果投递回会话。由网关实现。
type Sink interface {
	Deliver(sessionID string, effects []Effect)
}

// Engine 管理所有进行中的会话流程：命令分发、输入路由、
// 取消与无操作超时。同一会话同一时间只有一个流程在跑，
// 会话内输入串行处理，不同会话互不阻塞。
type Engine struct {
	mu       sync.Mutex // 只保护 sessions 表
	sessions map[string]*session

	services *Services
	timeout  time.Duration
	log      *zap.Logger
	sink     Sink
}

// session 的 mu 串行化本会话的全部流程调用，
// 流程内的慢操作（投递重试、口令哈希）不会挡住别的会话。
type session struct {
	mu       sync.Mutex
	machine  Machine
	timer    *time.Timer
	deadline time.Time
	gone     bool // 流程已结束或被丢弃，残留引用不再接收输入
}

// NewEngine 创建流程引擎。timeout 是会话的无操作超时。
func NewEngine(services *Services, timeout time.Duration, log *zap.Logger) *Engine {
	return &Engine{
		sessions: make(map[string]*session),
		services: services,
		timeout:  timeout,
		log:      log,
	}
}

// SetSink 设置效果投递出口。必须在处理任何输入前调用。
func (e *Engine) SetSink(sink Sink) {
	e.sink = sink
}

// HandleCommand 处理一条网关命令。
func (e *Engine) HandleCommand(ctx Context, command string) {
	switch command {
	case CmdCancel:
		e.cancel(ctx)
		return
	case CmdHelp:
		e.deliver(ctx.SessionID, []Effect{Reply{Text: helpText}})
		return
	case CmdRegisterAsRecipient:
		e.registerRecipient(ctx)
		return
	case CmdListAddresses:
		e.listAddresses(ctx)
		return
	}

	machine := e.buildMachine(ctx, command)
	if machine == nil {
		e.deliver(ctx.SessionID, []Effect{Reply{Text: "Unknown command. Send \"help\" for a list of commands."}})
		return
	}

	// 发送方命令只在私聊里接受，避免把口令和请求内容发进群里
	if senderCommand(command) && ctx.ChatKind != domain.ChatKindPrivate {
		e.deliver(ctx.SessionID, []Effect{Reply{Text: "Send me this command in a private chat."}})
		return
	}

	e.mu.Lock()
	if _, busy := e.sessions[ctx.SessionID]; busy {
		e.mu.Unlock()
		e.deliver(ctx.SessionID, []Effect{Reply{Text: "Finish or cancel your current operation first."}})
		return
	}
	s := &session{machine: machine}
	s.mu.Lock() // 新建未公开，拿锁不会等
	e.sessions[ctx.SessionID] = s
	e.mu.Unlock()

	effects, done := machine.Start()
	if done {
		s.gone = true
		s.mu.Unlock()
		e.drop(ctx.SessionID, s)
	} else {
		s.deadline = time.Now().Add(e.timeout)
		s.timer = time.AfterFunc(e.timeout, func() { e.expire(ctx.SessionID) })
		s.mu.Unlock()
	}

	e.log.Debug("workflow started",
		zap.String("session", ctx.SessionID),
		zap.String("command", command),
		zap.Bool("done", done))
	e.deliver(ctx.SessionID, effects)
}

// HandleEvent 把一条输入事件路由给会话当前的流程。
// 没有进行中的流程时回一句提示。
func (e *Engine) HandleEvent(ctx Context, ev Event) {
	e.mu.Lock()
	s, ok := e.sessions[ctx.SessionID]
	e.mu.Unlock()
	if !ok {
		e.hint(ctx)
		return
	}

	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		e.hint(ctx)
		return
	}
	s.deadline = time.Now().Add(e.timeout)
	s.timer.Reset(e.timeout)
	effects, done := s.machine.Advance(ev)
	if done {
		s.gone = true
		s.timer.Stop()
		s.mu.Unlock()
		e.drop(ctx.SessionID, s)
	} else {
		s.mu.Unlock()
	}

	e.deliver(ctx.SessionID, effects)
}

// hint 对没有进行中流程的输入回一句提示，群聊里保持沉默。
func (e *Engine) hint(ctx Context) {
	if ctx.ChatKind == domain.ChatKindPrivate {
		e.deliver(ctx.SessionID, []Effect{Reply{Text: "I didn't catch that. Send \"help\" for a list of commands."}})
	}
}

// drop 把已结束的会话从表里摘掉。表项可能已被同名新会话占用。
func (e *Engine) drop(sessionID string, s *session) {
	e.mu.Lock()
	if e.sessions[sessionID] == s {
		delete(e.sessions, sessionID)
	}
	e.mu.Unlock()
}

// Active 报告会话当前是否有进行中的流程。
func (e *Engine) Active(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[sessionID]
	return ok
}

// Shutdown 丢弃所有会话并停掉超时定时器。
func (e *Engine) Shutdown() {
	e.mu.Lock()
	drained := make([]*session, 0, len(e.sessions))
	for id, s := range e.sessions {
		drained = append(drained, s)
		delete(e.sessions, id)
	}
	e.mu.Unlock()

	for _, s := range drained {
		s.mu.Lock()
		s.gone = true
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
	}
}

func (e *Engine) buildMachine(ctx Context, command string) Machine {
	switch command {
	case CmdRegister:
		return NewRegistration(ctx, e.services)
	case CmdChangeNickname:
		return NewNicknameChange(ctx, e.services)
	case CmdSetRecipientCode:
		return NewSetCode(ctx, e.services)
	case CmdSubmitSongRequest:
		return NewSongRequest(ctx, e.services)
	case CmdCreateAddress:
		return NewAddressCreate(ctx, e.services)
	case CmdToggleAddress:
		return NewAddressManage(ctx, e.services, ActionToggle)
	case CmdRemoveAddress:
		return NewAddressManage(ctx, e.services, ActionRemove)
	case CmdReleaseAddress:
		return NewAddressManage(ctx, e.services, ActionRelease)
	default:
		return nil
	}
}

func senderCommand(command string) bool {
	switch command {
	case CmdRegister, CmdChangeNickname, CmdSetRecipientCode, CmdSubmitSongRequest:
		return true
	}
	return false
}

// cancel 丢弃会话当前的流程。流程从不持有未提交的外部状态，
// 所以丢弃就是完整的回滚。
func (e *Engine) cancel(ctx Context) {
	e.mu.Lock()
	s, ok := e.sessions[ctx.SessionID]
	e.mu.Unlock()
	if !ok {
		e.deliver(ctx.SessionID, []Effect{Reply{Text: "Nothing to cancel."}})
		return
	}

	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		e.deliver(ctx.SessionID, []Effect{Reply{Text: "Nothing to cancel."}})
		return
	}
	s.gone = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	e.drop(ctx.SessionID, s)
	e.deliver(ctx.SessionID, []Effect{Reply{Text: "Cancelled."}})
}

// expire 由超时定时器触发，丢弃闲置的流程。
// 定时器等锁期间会话可能刚有过活动，那就按剩余时间重新挂表。
func (e *Engine) expire(sessionID string) {
	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return
	}
	if remaining := time.Until(s.deadline); remaining > 0 {
		s.timer.Reset(remaining)
		s.mu.Unlock()
		return
	}
	s.gone = true
	s.mu.Unlock()

	e.drop(sessionID, s)
	e.log.Debug("workflow timed out", zap.String("session", sessionID))
	e.deliver(sessionID, []Effect{Reply{Text: "Operation timed out. Start again when you're ready."}})
}

func (e *Engine) registerRecipient(ctx Context) {
	created, err := e.services.Recipients.Register(ctx.ChatID, ctx.ChatKind, ctx.UserID, ctx.Nickname)
	if err != nil {
		e.log.Error("recipient registration failed", zap.String("chat_id", ctx.ChatID), zap.Error(err))
		e.deliver(ctx.SessionID, []Effect{Reply{Text: errorText(err)}})
		return
	}
	if !created {
		e.deliver(ctx.SessionID, []Effect{Reply{Text: "This chat is already registered as a recipient."}})
		return
	}
	e.deliver(ctx.SessionID, []Effect{Reply{Text: "This chat can now receive song requests. Send \"create-address\" to create an address code."}})
}

func (e *Engine) listAddresses(ctx Context) {
	if !e.services.Recipients.IsRegistered(ctx.ChatID) {
		e.deliver(ctx.SessionID, []Effect{Reply{Text: "This chat is not registered as a recipient. Send \"register-as-recipient\" first."}})
		return
	}

	report, err := e.services.Addresses.Render(ctx.ChatID)
	if err != nil {
		e.log.Error("address report failed", zap.String("chat_id", ctx.ChatID), zap.Error(err))
		e.deliver(ctx.SessionID, []Effect{Reply{Text: errorText(err)}})
		return
	}
	e.deliver(ctx.SessionID, []Effect{Reply{Text: report}})
}

func (e *Engine) deliver(sessionID string, effects []Effect) {
	if len(effects) == 0 || e.sink == nil {
		return
	}
	e.sink.Deliver(sessionID, effects)
}
