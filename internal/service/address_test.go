package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"songrelay/backend/internal/config"
	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/storage"
	"songrelay/backend/internal/storage/memory"
)

func testConfig() *config.Config {
	return &config.Config{
		Relay: config.RelayConfig{
			SweepInterval:   time.Hour,
			SessionTimeout:  5 * time.Minute,
			RequestInterval: 10 * time.Minute,
			Location:        time.UTC,
		},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAddressService_Create(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	newService := func() (*AddressService, *memory.Store) {
		store := memory.NewStore()
		service := NewAddressService(store, testConfig(), zap.NewNop())
		service.SetClock(fixedClock(base))
		return service, store
	}

	t.Run("随机生成转发码成功", func(t *testing.T) {
		service, _ := newService()

		address, err := service.Create(CreateAddressInput{
			ChatID:   "chat-1",
			Validity: domain.ValiditySevenDays,
		})

		require.NoError(t, err)
		assert.Len(t, address.Code, domain.CodeLength)
		for _, r := range address.Code {
			assert.Contains(t, domain.CodeAlphabet, string(r))
		}
		assert.True(t, address.Active)
		assert.False(t, address.HasPassword())
		require.NotNil(t, address.ValidUntil)
		assert.Equal(t, base.Add(7*24*time.Hour), *address.ValidUntil)
	})

	t.Run("自定义码与永久有效期", func(t *testing.T) {
		service, _ := newService()

		address, err := service.Create(CreateAddressInput{
			ChatID:   "chat-1",
			Code:     "mycode1234",
			Validity: domain.ValidityIndefinite,
		})

		require.NoError(t, err)
		assert.Equal(t, "mycode1234", address.Code)
		assert.Nil(t, address.ValidUntil)
	})

	t.Run("带口令的码只保存哈希", func(t *testing.T) {
		service, _ := newService()

		address, err := service.Create(CreateAddressInput{
			ChatID:   "chat-1",
			Validity: domain.ValidityOneDay,
			Password: "secret",
		})

		require.NoError(t, err)
		assert.True(t, address.HasPassword())
		assert.NotEqual(t, "secret", address.PasswordHash)
		assert.NoError(t, VerifyPassword(address, "secret"))
		assert.ErrorIs(t, VerifyPassword(address, "wrong"), domain.ErrPasswordMismatch)
	})

	t.Run("自定义码冲突时拒绝且不产生任何变更", func(t *testing.T) {
		service, store := newService()

		_, err := service.Create(CreateAddressInput{
			ChatID:   "chat-1",
			Code:     "taken12345",
			Validity: domain.ValidityIndefinite,
		})
		require.NoError(t, err)

		_, err = service.Create(CreateAddressInput{
			ChatID:   "chat-2",
			Code:     "taken12345",
			Validity: domain.ValidityIndefinite,
		})
		assert.ErrorIs(t, err, domain.ErrCodeInUse)

		// 原记录保持不变，冲突方没有留下任何记录
		existing, err := store.GetAddress("taken12345")
		require.NoError(t, err)
		assert.Equal(t, "chat-1", existing.ChatID)
		count, err := store.CountLiveAddresses("chat-2", base)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("与已过期的码冲突同样拒绝", func(t *testing.T) {
		service, store := newService()

		past := base.Add(-time.Hour)
		require.NoError(t, store.SaveAddress(&domain.Address{
			Code:       "expired123",
			ChatID:     "chat-1",
			Active:     true,
			ValidUntil: &past,
		}))

		_, err := service.Create(CreateAddressInput{
			ChatID:   "chat-1",
			Code:     "expired123",
			Validity: domain.ValidityIndefinite,
		})
		assert.ErrorIs(t, err, domain.ErrCodeInUse)
	})
}

func TestAddressService_OwnerLimit(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	service := NewAddressService(store, testConfig(), zap.NewNop())
	service.SetClock(fixedClock(base))

	for i := 0; i < domain.MaxAddressesPerOwner; i++ {
		_, err := service.Create(CreateAddressInput{
			ChatID:   "chat-1",
			Validity: domain.ValidityIndefinite,
		})
		require.NoError(t, err)
	}

	t.Run("达到上限后创建失败", func(t *testing.T) {
		_, err := service.Create(CreateAddressInput{
			ChatID:   "chat-1",
			Validity: domain.ValidityIndefinite,
		})
		assert.ErrorIs(t, err, domain.ErrOwnerLimitExceeded)
	})

	t.Run("停用的码仍占用名额", func(t *testing.T) {
		addresses, err := service.ListForOwner("chat-1", storage.FilterAll)
		require.NoError(t, err)
		_, err = service.Toggle(addresses[0].Code)
		require.NoError(t, err)

		_, err = service.Create(CreateAddressInput{
			ChatID:   "chat-1",
			Validity: domain.ValidityIndefinite,
		})
		assert.ErrorIs(t, err, domain.ErrOwnerLimitExceeded)
	})

	t.Run("过期的码释放名额", func(t *testing.T) {
		addresses, err := service.ListForOwner("chat-1", storage.FilterAll)
		require.NoError(t, err)
		require.NoError(t, service.ExpireNow(addresses[0].Code))

		_, err = service.Create(CreateAddressInput{
			ChatID:   "chat-1",
			Validity: domain.ValidityIndefinite,
		})
		assert.NoError(t, err)
	})

	t.Run("其他会话不受影响", func(t *testing.T) {
		_, err := service.Create(CreateAddressInput{
			ChatID:   "chat-2",
			Validity: domain.ValidityIndefinite,
		})
		assert.NoError(t, err)
	})
}

func TestAddressService_Toggle(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	service := NewAddressService(store, testConfig(), zap.NewNop())
	service.SetClock(fixedClock(base))

	t.Run("翻转启用标记", func(t *testing.T) {
		address, err := service.Create(CreateAddressInput{
			ChatID:   "chat-1",
			Validity: domain.ValidityIndefinite,
		})
		require.NoError(t, err)

		active, err := service.Toggle(address.Code)
		require.NoError(t, err)
		assert.False(t, active)

		active, err = service.Toggle(address.Code)
		require.NoError(t, err)
		assert.True(t, active)
	})

	t.Run("已过期的码不允许切换且状态不变", func(t *testing.T) {
		past := base.Add(-time.Hour)
		require.NoError(t, store.SaveAddress(&domain.Address{
			Code:       "oldcode999",
			ChatID:     "chat-1",
			Active:     true,
			ValidUntil: &past,
		}))

		_, err := service.Toggle("oldcode999")
		assert.ErrorIs(t, err, domain.ErrAddressExpired)

		address, err := store.GetAddress("oldcode999")
		require.NoError(t, err)
		assert.True(t, address.Active)
	})

	t.Run("不存在的码返回未找到", func(t *testing.T) {
		_, err := service.Toggle("nosuchcode")
		assert.ErrorIs(t, err, domain.ErrAddressNotFound)
	})
}

func TestAddressService_ExpireNow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	service := NewAddressService(store, testConfig(), zap.NewNop())
	service.SetClock(fixedClock(base))

	t.Run("把永久码提前到当前时刻", func(t *testing.T) {
		address, err := service.Create(CreateAddressInput{
			ChatID:   "chat-1",
			Validity: domain.ValidityIndefinite,
		})
		require.NoError(t, err)

		require.NoError(t, service.ExpireNow(address.Code))

		saved, err := store.GetAddress(address.Code)
		require.NoError(t, err)
		require.NotNil(t, saved.ValidUntil)
		assert.True(t, saved.Expired(base))
		// 记录本身还在，等宽限期过后由清理任务释放
		assert.True(t, saved.Active)
	})

	t.Run("对已过期的码是无操作", func(t *testing.T) {
		past := base.Add(-48 * time.Hour)
		require.NoError(t, store.SaveAddress(&domain.Address{
			Code:       "bygone1234",
			ChatID:     "chat-1",
			Active:     true,
			ValidUntil: &past,
		}))

		require.NoError(t, service.ExpireNow("bygone1234"))

		saved, err := store.GetAddress("bygone1234")
		require.NoError(t, err)
		assert.Equal(t, past, *saved.ValidUntil)
	})
}

func TestAddressService_Release(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	service := NewAddressService(store, testConfig(), zap.NewNop())
	service.SetClock(fixedClock(base))

	address, err := service.Create(CreateAddressInput{
		ChatID:   "chat-1",
		Validity: domain.ValidityIndefinite,
	})
	require.NoError(t, err)

	require.NoError(t, service.Release(address.Code))
	_, err = store.GetAddress(address.Code)
	assert.ErrorIs(t, err, domain.ErrAddressNotFound)

	// 重复删除是无操作
	assert.NoError(t, service.Release(address.Code))
}

func TestAddressService_Render(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	service := NewAddressService(store, testConfig(), zap.NewNop())
	service.SetClock(fixedClock(base))

	t.Run("没有任何码时给出空提示", func(t *testing.T) {
		report, err := service.Render("chat-empty")
		require.NoError(t, err)
		assert.Equal(t, "You don't have any addresses yet.", report)
	})

	t.Run("按可用性分段并标注有效期", func(t *testing.T) {
		future := base.Add(24 * time.Hour)
		require.NoError(t, store.SaveAddress(&domain.Address{
			Code: "usable1234", ChatID: "chat-1", Active: true, ValidUntil: &future,
		}))
		require.NoError(t, store.SaveAddress(&domain.Address{
			Code: "forever123", ChatID: "chat-1", Active: true,
		}))
		require.NoError(t, store.SaveAddress(&domain.Address{
			Code: "paused1234", ChatID: "chat-1", Active: false,
		}))

		report, err := service.Render("chat-1")
		require.NoError(t, err)

		assert.Contains(t, report, "Active addresses:")
		assert.Contains(t, report, "Inactive addresses:")
		assert.Contains(t, report, "usable1234")
		assert.Contains(t, report, "valid until 2025-06-02 12:00")
		assert.Contains(t, report, "always valid")
		assert.Contains(t, report, "paused1234")
		assert.Contains(t, report, "inactive")

		activeSection := report[:strings.Index(report, "Inactive addresses:")]
		assert.NotContains(t, activeSection, "paused1234")
	})

	t.Run("过期超过保留窗口的码不再出现", func(t *testing.T) {
		longGone := base.Add(-domain.ListRetentionWindow - time.Hour)
		require.NoError(t, store.SaveAddress(&domain.Address{
			Code: "ancient123", ChatID: "chat-1", Active: true, ValidUntil: &longGone,
		}))

		report, err := service.Render("chat-1")
		require.NoError(t, err)
		assert.NotContains(t, report, "ancient123")
	})
}
