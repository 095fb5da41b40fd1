package workflow

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"songrelay/backend/internal/config"
	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/service"
	"songrelay/backend/internal/storage/memory"
	"songrelay/backend/internal/transport"
)

// recordingSink 收集引擎投递的全部效果。
type recordingSink struct {
	mu      sync.Mutex
	effects []Effect
}

func (s *recordingSink) Deliver(sessionID string, effects []Effect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effects = append(s.effects, effects...)
}

// last 返回最近一条效果的文本。
func (s *recordingSink) last(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.effects)
	switch e := s.effects[len(s.effects)-1].(type) {
	case Reply:
		return e.Text
	case Prompt:
		return e.Text
	default:
		t.Fatalf("unexpected effect %T", e)
		return ""
	}
}

// lastPrompt 返回最近一条效果并要求它是提问。
func (s *recordingSink) lastPrompt(t *testing.T) Prompt {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.effects)
	prompt, ok := s.effects[len(s.effects)-1].(Prompt)
	require.True(t, ok, "expected a prompt, got %T", s.effects[len(s.effects)-1])
	return prompt
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effects = nil
}

// countingNotifier 记录投递并恒返回成功。
type countingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *countingNotifier) Notify(destination, text string) transport.Outcome {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, destination)
	return transport.OutcomeDelivered
}

type fixture struct {
	engine   *Engine
	sink     *recordingSink
	notifier *countingNotifier
	store    *memory.Store
	services *Services
	cfg      *config.Config
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()

	cfg := &config.Config{
		Relay: config.RelayConfig{
			SessionTimeout:  timeout,
			RequestInterval: 10 * time.Minute,
			Location:        time.UTC,
		},
	}

	log := zap.NewNop()
	store := memory.NewStore()
	notifier := &countingNotifier{}

	addresses := service.NewAddressService(store, cfg, log)
	bindings := service.NewBindingService(store, log)
	services := &Services{
		Users:      service.NewUserService(store, log),
		Recipients: service.NewRecipientService(store, log),
		Addresses:  addresses,
		Bindings:   bindings,
		Requests:   service.NewRequestService(bindings, store, notifier, cfg, log),
	}

	sink := &recordingSink{}
	engine := NewEngine(services, timeout, log)
	engine.SetSink(sink)
	t.Cleanup(engine.Shutdown)

	return &fixture{engine: engine, sink: sink, notifier: notifier, store: store, services: services, cfg: cfg}
}

func privateCtx(userID string) Context {
	return Context{
		SessionID: userID,
		UserID:    userID,
		ChatID:    "private-" + userID,
		ChatKind:  domain.ChatKindPrivate,
	}
}

// setupRecipient 注册一个收信会话并创建一个转发码。
func (f *fixture) setupRecipient(t *testing.T, chatID, code, password string) {
	t.Helper()
	_, err := f.services.Recipients.Register(chatID, domain.ChatKindGroup, "owner-"+chatID, "")
	require.NoError(t, err)
	_, err = f.services.Addresses.Create(service.CreateAddressInput{
		ChatID:   chatID,
		Code:     code,
		Validity: domain.ValidityIndefinite,
		Password: password,
	})
	require.NoError(t, err)
}

func TestEngine_Registration(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := privateCtx("user-1")

	t.Run("注册并设置昵称", func(t *testing.T) {
		f.engine.HandleCommand(ctx, CmdRegister)
		assert.Contains(t, f.sink.last(t), "What should I call you?")

		f.engine.HandleEvent(ctx, TextEvent("Alice"))
		assert.Contains(t, f.sink.last(t), "Welcome, Alice!")
		assert.False(t, f.engine.Active(ctx.SessionID))
	})

	t.Run("重复注册直接结束", func(t *testing.T) {
		f.engine.HandleCommand(ctx, CmdRegister)
		assert.Contains(t, f.sink.last(t), "already registered")
		assert.False(t, f.engine.Active(ctx.SessionID))
	})

	t.Run("跳过昵称按匿名注册", func(t *testing.T) {
		other := privateCtx("user-2")
		f.engine.HandleCommand(other, CmdRegister)
		f.engine.HandleEvent(other, ChoiceEvent("skip"))
		assert.Contains(t, f.sink.last(t), "Welcome, Unknown user!")
	})

	t.Run("群聊里拒绝发送方命令", func(t *testing.T) {
		groupCtx := Context{
			SessionID: "user-3",
			UserID:    "user-3",
			ChatID:    "group-1",
			ChatKind:  domain.ChatKindGroup,
		}
		f.engine.HandleCommand(groupCtx, CmdRegister)
		assert.Contains(t, f.sink.last(t), "private chat")
	})
}

func TestEngine_SetCode(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := privateCtx("listener")

	f.engine.HandleCommand(ctx, CmdRegister)
	f.engine.HandleEvent(ctx, TextEvent("Listener"))
	f.setupRecipient(t, "studio", "opencode01", "")
	f.setupRecipient(t, "vault", "lockedcode", "secret")

	t.Run("绑定无口令的码", func(t *testing.T) {
		f.engine.HandleCommand(ctx, CmdSetRecipientCode)
		assert.Contains(t, f.sink.last(t), "address code")

		f.engine.HandleEvent(ctx, TextEvent("opencode01"))
		assert.Contains(t, f.sink.last(t), "Recipient code set")
	})

	t.Run("已有绑定时先确认替换", func(t *testing.T) {
		f.engine.HandleCommand(ctx, CmdSetRecipientCode)
		assert.Contains(t, f.sink.last(t), "Replace it?")

		f.engine.HandleEvent(ctx, ChoiceEvent("no"))
		assert.Contains(t, f.sink.last(t), "Keeping your current code")
	})

	t.Run("不存在的码重新提问", func(t *testing.T) {
		f.engine.HandleCommand(ctx, CmdSetRecipientCode)
		f.engine.HandleEvent(ctx, ChoiceEvent("yes"))
		f.engine.HandleEvent(ctx, TextEvent("nosuchcode"))
		assert.Contains(t, f.sink.last(t), "doesn't exist")
		assert.True(t, f.engine.Active(ctx.SessionID))

		f.engine.HandleCommand(ctx, CmdCancel)
		assert.False(t, f.engine.Active(ctx.SessionID))
	})

	t.Run("口令错满三次后终止", func(t *testing.T) {
		f.engine.HandleCommand(ctx, CmdSetRecipientCode)
		f.engine.HandleEvent(ctx, ChoiceEvent("yes"))
		f.engine.HandleEvent(ctx, TextEvent("lockedcode"))
		assert.Contains(t, f.sink.last(t), "password protected")

		f.engine.HandleEvent(ctx, TextEvent("wrong1"))
		assert.Contains(t, f.sink.last(t), "2 attempts left")
		f.engine.HandleEvent(ctx, TextEvent("wrong2"))
		assert.Contains(t, f.sink.last(t), "1 attempts left")
		f.engine.HandleEvent(ctx, TextEvent("wrong3"))
		assert.Contains(t, f.sink.last(t), "Too many wrong attempts")
		assert.False(t, f.engine.Active(ctx.SessionID))

		// 失败的尝试没有改动原有绑定
		chatID, err := f.services.Bindings.Resolve("listener")
		require.NoError(t, err)
		assert.Equal(t, "studio", chatID)
	})

	t.Run("口令正确时完成绑定", func(t *testing.T) {
		f.engine.HandleCommand(ctx, CmdSetRecipientCode)
		f.engine.HandleEvent(ctx, ChoiceEvent("yes"))
		f.engine.HandleEvent(ctx, TextEvent("lockedcode"))
		f.engine.HandleEvent(ctx, TextEvent("secret"))
		assert.Contains(t, f.sink.last(t), "Recipient code set")

		chatID, err := f.services.Bindings.Resolve("listener")
		require.NoError(t, err)
		assert.Equal(t, "vault", chatID)
	})
}

func TestEngine_SongRequest(t *testing.T) {
	newReadyFixture := func(t *testing.T) (*fixture, Context) {
		f := newFixture(t, time.Minute)
		ctx := privateCtx("listener")
		f.engine.HandleCommand(ctx, CmdRegister)
		f.engine.HandleEvent(ctx, TextEvent("Alice"))
		f.setupRecipient(t, "studio", "opencode01", "")
		f.engine.HandleCommand(ctx, CmdSetRecipientCode)
		f.engine.HandleEvent(ctx, TextEvent("opencode01"))
		f.sink.reset()
		return f, ctx
	}

	t.Run("完整点歌链路", func(t *testing.T) {
		f, ctx := newReadyFixture(t)

		f.engine.HandleCommand(ctx, CmdSubmitSongRequest)
		assert.Contains(t, f.sink.last(t), "What song")

		f.engine.HandleEvent(ctx, TextEvent("Yesterday"))
		assert.Contains(t, f.sink.last(t), "artist")

		f.engine.HandleEvent(ctx, TextEvent("The Beatles"))
		assert.Contains(t, f.sink.last(t), "notes")

		f.engine.HandleEvent(ctx, TextEvent("acoustic please"))
		confirm := f.sink.lastPrompt(t)
		assert.Contains(t, confirm.Text, "Song: Yesterday")
		assert.Contains(t, confirm.Text, "Notes: acoustic please")

		f.engine.HandleEvent(ctx, ChoiceEvent("send"))
		assert.Contains(t, f.sink.last(t), "has been sent")
		assert.Equal(t, []string{"studio"}, f.notifier.calls)
	})

	t.Run("中途取消不产生投递", func(t *testing.T) {
		f, ctx := newReadyFixture(t)

		f.engine.HandleCommand(ctx, CmdSubmitSongRequest)
		f.engine.HandleEvent(ctx, TextEvent("Yesterday"))
		// 停在询问歌手的一步
		f.engine.HandleCommand(ctx, CmdCancel)

		assert.Contains(t, f.sink.last(t), "Cancelled")
		assert.Empty(t, f.notifier.calls)
		assert.False(t, f.engine.Active(ctx.SessionID))
	})

	t.Run("确认页选择丢弃", func(t *testing.T) {
		f, ctx := newReadyFixture(t)

		f.engine.HandleCommand(ctx, CmdSubmitSongRequest)
		f.engine.HandleEvent(ctx, TextEvent("Yesterday"))
		f.engine.HandleEvent(ctx, TextEvent("The Beatles"))
		f.engine.HandleEvent(ctx, ChoiceEvent("skip"))
		f.engine.HandleEvent(ctx, ChoiceEvent("discard"))

		assert.Contains(t, f.sink.last(t), "discarded")
		assert.Empty(t, f.notifier.calls)
	})

	t.Run("超长备注重新提问", func(t *testing.T) {
		f, ctx := newReadyFixture(t)

		f.engine.HandleCommand(ctx, CmdSubmitSongRequest)
		f.engine.HandleEvent(ctx, TextEvent("Yesterday"))
		f.engine.HandleEvent(ctx, TextEvent("The Beatles"))
		f.engine.HandleEvent(ctx, TextEvent(strings.Repeat("x", domain.MaxNotesLength+1)))

		assert.Contains(t, f.sink.last(t), "too long")
		assert.True(t, f.engine.Active(ctx.SessionID))
	})

	t.Run("窗口内第二次点歌被限流", func(t *testing.T) {
		f, ctx := newReadyFixture(t)

		f.engine.HandleCommand(ctx, CmdSubmitSongRequest)
		f.engine.HandleEvent(ctx, TextEvent("Yesterday"))
		f.engine.HandleEvent(ctx, TextEvent("The Beatles"))
		f.engine.HandleEvent(ctx, ChoiceEvent("skip"))
		f.engine.HandleEvent(ctx, ChoiceEvent("send"))

		f.engine.HandleCommand(ctx, CmdSubmitSongRequest)
		assert.Contains(t, f.sink.last(t), "every 10 minutes")
		assert.False(t, f.engine.Active(ctx.SessionID))
	})

	t.Run("未绑定时直接拒绝", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		ctx := privateCtx("loner")
		f.engine.HandleCommand(ctx, CmdRegister)
		f.engine.HandleEvent(ctx, TextEvent("Loner"))

		f.engine.HandleCommand(ctx, CmdSubmitSongRequest)
		assert.Contains(t, f.sink.last(t), "set-recipient-code")
		assert.False(t, f.engine.Active(ctx.SessionID))
	})
}

func TestEngine_AddressCreate(t *testing.T) {
	newRecipientCtx := func(t *testing.T) (*fixture, Context) {
		f := newFixture(t, time.Minute)
		ctx := Context{
			SessionID: "studio-session",
			UserID:    "owner-1",
			ChatID:    "studio",
			ChatKind:  domain.ChatKindGroup,
		}
		f.engine.HandleCommand(ctx, CmdRegisterAsRecipient)
		f.sink.reset()
		return f, ctx
	}

	t.Run("自定义码创建成功", func(t *testing.T) {
		f, ctx := newRecipientCtx(t)

		f.engine.HandleCommand(ctx, CmdCreateAddress)
		assert.Contains(t, f.sink.last(t), "random code")
		typePrompt := f.sink.lastPrompt(t)
		require.Len(t, typePrompt.Choices, 2)
		assert.Equal(t, "random", typePrompt.Choices[0].Value)
		assert.Equal(t, "custom", typePrompt.Choices[1].Value)

		f.engine.HandleEvent(ctx, ChoiceEvent("custom"))
		f.engine.HandleEvent(ctx, TextEvent("studiocode"))
		assert.Contains(t, f.sink.last(t), "stay valid")

		f.engine.HandleEvent(ctx, ChoiceEvent(string(domain.ValiditySevenDays)))
		assert.Contains(t, f.sink.last(t), "password")

		f.engine.HandleEvent(ctx, ChoiceEvent("no"))
		assert.Contains(t, f.sink.last(t), "Address created: studiocode")
		assert.Contains(t, f.sink.last(t), "valid until")
	})

	t.Run("随机码带口令创建", func(t *testing.T) {
		f, ctx := newRecipientCtx(t)

		f.engine.HandleCommand(ctx, CmdCreateAddress)
		f.engine.HandleEvent(ctx, ChoiceEvent("random"))
		f.engine.HandleEvent(ctx, ChoiceEvent(string(domain.ValidityIndefinite)))
		f.engine.HandleEvent(ctx, ChoiceEvent("yes"))
		f.engine.HandleEvent(ctx, TextEvent("hunter2"))

		assert.Contains(t, f.sink.last(t), "Address created:")
		assert.Contains(t, f.sink.last(t), "password protected")
	})

	t.Run("占用的自定义码重新提问", func(t *testing.T) {
		f, ctx := newRecipientCtx(t)
		f.setupRecipient(t, "other", "takencode1", "")

		f.engine.HandleCommand(ctx, CmdCreateAddress)
		f.engine.HandleEvent(ctx, ChoiceEvent("custom"))
		f.engine.HandleEvent(ctx, TextEvent("takencode1"))

		assert.Contains(t, f.sink.last(t), "already taken")
		assert.True(t, f.engine.Active(ctx.SessionID))
	})

	t.Run("未注册的会话直接拒绝", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		ctx := Context{
			SessionID: "random-session",
			UserID:    "user-x",
			ChatID:    "nowhere",
			ChatKind:  domain.ChatKindGroup,
		}
		f.engine.HandleCommand(ctx, CmdCreateAddress)
		assert.Contains(t, f.sink.last(t), "register-as-recipient")
	})

	t.Run("名额占满时进入即拒绝", func(t *testing.T) {
		f, ctx := newRecipientCtx(t)
		for i := 0; i < domain.MaxAddressesPerOwner; i++ {
			_, err := f.services.Addresses.Create(service.CreateAddressInput{
				ChatID:   ctx.ChatID,
				Validity: domain.ValidityIndefinite,
			})
			require.NoError(t, err)
		}

		f.engine.HandleCommand(ctx, CmdCreateAddress)
		assert.Contains(t, f.sink.last(t), "live addresses")
		assert.False(t, f.engine.Active(ctx.SessionID))
	})
}

func TestEngine_AddressManage(t *testing.T) {
	newManagedFixture := func(t *testing.T) (*fixture, Context) {
		f := newFixture(t, time.Minute)
		ctx := Context{
			SessionID: "studio-session",
			UserID:    "owner-1",
			ChatID:    "studio",
			ChatKind:  domain.ChatKindGroup,
		}
		f.setupRecipient(t, "studio", "studiocode", "")
		f.sink.reset()
		return f, ctx
	}

	t.Run("启停转发码", func(t *testing.T) {
		f, ctx := newManagedFixture(t)

		f.engine.HandleCommand(ctx, CmdToggleAddress)
		prompt := f.sink.lastPrompt(t)
		require.Len(t, prompt.Choices, 1)
		assert.Equal(t, "studiocode", prompt.Choices[0].Value)

		f.engine.HandleEvent(ctx, ChoiceEvent("studiocode"))
		f.engine.HandleEvent(ctx, ChoiceEvent("yes"))
		assert.Contains(t, f.sink.last(t), "now disabled")

		f.engine.HandleCommand(ctx, CmdToggleAddress)
		f.engine.HandleEvent(ctx, ChoiceEvent("studiocode"))
		f.engine.HandleEvent(ctx, ChoiceEvent("yes"))
		assert.Contains(t, f.sink.last(t), "now enabled")
	})

	t.Run("确认页选择否不做任何改动", func(t *testing.T) {
		f, ctx := newManagedFixture(t)

		f.engine.HandleCommand(ctx, CmdRemoveAddress)
		f.engine.HandleEvent(ctx, ChoiceEvent("studiocode"))
		f.engine.HandleEvent(ctx, ChoiceEvent("no"))
		assert.Contains(t, f.sink.last(t), "Nothing changed")

		address, err := f.services.Addresses.Get("studiocode")
		require.NoError(t, err)
		assert.Nil(t, address.ValidUntil)
	})

	t.Run("移除后进入宽限期", func(t *testing.T) {
		f, ctx := newManagedFixture(t)

		f.engine.HandleCommand(ctx, CmdRemoveAddress)
		f.engine.HandleEvent(ctx, ChoiceEvent("studiocode"))
		f.engine.HandleEvent(ctx, ChoiceEvent("yes"))
		assert.Contains(t, f.sink.last(t), "grace period")

		address, err := f.services.Addresses.Get("studiocode")
		require.NoError(t, err)
		assert.NotNil(t, address.ValidUntil)
	})

	t.Run("释放立即删除", func(t *testing.T) {
		f, ctx := newManagedFixture(t)

		f.engine.HandleCommand(ctx, CmdReleaseAddress)
		f.engine.HandleEvent(ctx, ChoiceEvent("studiocode"))
		f.engine.HandleEvent(ctx, ChoiceEvent("yes"))
		assert.Contains(t, f.sink.last(t), "permanently released")

		_, err := f.services.Addresses.Get("studiocode")
		assert.ErrorIs(t, err, domain.ErrAddressNotFound)
	})

	t.Run("没有码时直接提示", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		ctx := Context{
			SessionID: "empty-session",
			UserID:    "owner-2",
			ChatID:    "empty",
			ChatKind:  domain.ChatKindGroup,
		}
		f.engine.HandleCommand(ctx, CmdRegisterAsRecipient)
		f.engine.HandleCommand(ctx, CmdToggleAddress)
		assert.Contains(t, f.sink.last(t), "don't have any addresses")
	})
}

func TestEngine_Sessions(t *testing.T) {
	t.Run("同一会话同时只允许一个流程", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		ctx := privateCtx("user-1")

		f.engine.HandleCommand(ctx, CmdRegister)
		f.engine.HandleCommand(ctx, CmdRegister)
		assert.Contains(t, f.sink.last(t), "Finish or cancel")
	})

	t.Run("无流程时的文本输入得到提示", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		ctx := privateCtx("user-1")

		f.engine.HandleEvent(ctx, TextEvent("hello?"))
		assert.Contains(t, f.sink.last(t), "help")
	})

	t.Run("群聊里的闲聊不回应", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		ctx := Context{
			SessionID: "group-session",
			UserID:    "user-1",
			ChatID:    "group-1",
			ChatKind:  domain.ChatKindGroup,
		}
		f.engine.HandleEvent(ctx, TextEvent("just chatting"))
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		assert.Empty(t, f.sink.effects)
	})

	t.Run("闲置超时后流程被丢弃", func(t *testing.T) {
		f := newFixture(t, 20*time.Millisecond)
		ctx := privateCtx("user-1")

		f.engine.HandleCommand(ctx, CmdRegister)
		require.True(t, f.engine.Active(ctx.SessionID))

		assert.Eventually(t, func() bool {
			return !f.engine.Active(ctx.SessionID)
		}, time.Second, 5*time.Millisecond)
		assert.Contains(t, f.sink.last(t), "timed out")
	})

	t.Run("未知命令给出帮助指引", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		ctx := privateCtx("user-1")

		f.engine.HandleCommand(ctx, "frobnicate")
		assert.Contains(t, f.sink.last(t), "Unknown command")

		f.engine.HandleCommand(ctx, CmdHelp)
		assert.Contains(t, f.sink.last(t), "Available commands")
	})

	t.Run("重复注册收信会话是无操作", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		ctx := Context{
			SessionID: "studio-session",
			UserID:    "owner-1",
			ChatID:    "studio",
			ChatKind:  domain.ChatKindGroup,
		}
		f.engine.HandleCommand(ctx, CmdRegisterAsRecipient)
		assert.Contains(t, f.sink.last(t), "can now receive")

		f.engine.HandleCommand(ctx, CmdRegisterAsRecipient)
		assert.Contains(t, f.sink.last(t), "already registered")
	})
}

// gateNotifier 在投递时阻塞，直到测试放行。
type gateNotifier struct {
	entered chan struct{}
	release chan struct{}
}

func (n *gateNotifier) Notify(destination, text string) transport.Outcome {
	close(n.entered)
	<-n.release
	return transport.OutcomeDelivered
}

func TestEngine_SessionsRunIndependently(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctxA := privateCtx("listener")
	f.engine.HandleCommand(ctxA, CmdRegister)
	f.engine.HandleEvent(ctxA, TextEvent("Alice"))
	f.setupRecipient(t, "studio", "opencode01", "")
	f.engine.HandleCommand(ctxA, CmdSetRecipientCode)
	f.engine.HandleEvent(ctxA, TextEvent("opencode01"))

	gate := &gateNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	f.services.Requests = service.NewRequestService(f.services.Bindings, f.store, gate, f.cfg, zap.NewNop())
	f.sink.reset()

	// 会话 A 走到确认一步，确认后卡在投递里
	f.engine.HandleCommand(ctxA, CmdSubmitSongRequest)
	f.engine.HandleEvent(ctxA, TextEvent("Yesterday"))
	f.engine.HandleEvent(ctxA, TextEvent("The Beatles"))
	f.engine.HandleEvent(ctxA, ChoiceEvent("skip"))

	sent := make(chan struct{})
	go func() {
		f.engine.HandleEvent(ctxA, ChoiceEvent("send"))
		close(sent)
	}()
	<-gate.entered

	// 其他会话的命令此时必须立即得到处理
	ctxB := privateCtx("other")
	handled := make(chan struct{})
	go func() {
		f.engine.HandleCommand(ctxB, CmdRegister)
		close(handled)
	}()
	select {
	case <-handled:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("command for another session blocked behind an in-flight delivery")
	}
	assert.True(t, f.engine.Active(ctxB.SessionID))

	close(gate.release)
	<-sent
	assert.False(t, f.engine.Active(ctxA.SessionID))
	assert.Contains(t, f.sink.last(t), "has been sent")
}
