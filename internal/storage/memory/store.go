package memory

import (
	"sync"
	"time"

	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/storage"
)

// Store 使用内存保存全部实体数据，用于开发验证与单元测试。
// 实现了 storage.Store 与 storage.RateLimiter。
type Store struct {
	mu        sync.RWMutex
	addresses map[string]*domain.Address        // code -> address
	byOwner   map[string]map[string]struct{}    // chatID -> set of codes
	users     map[string]*domain.User           // userID -> user
	chats     map[string]*domain.RecipientChat  // chatID -> chat
	bindings  map[string]*domain.ForwardBinding // userID -> binding

	rateLimits map[string]*rateLimitEntry
}

// rateLimitEntry 频率限制条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		addresses:  make(map[string]*domain.Address),
		byOwner:    make(map[string]map[string]struct{}),
		users:      make(map[string]*domain.User),
		chats:      make(map[string]*domain.RecipientChat),
		bindings:   make(map[string]*domain.ForwardBinding),
		rateLimits: make(map[string]*rateLimitEntry),
	}
}

// ========== AddressRepository ==========

// SaveAddress 保存新的转发码，码已存在时返回 ErrCodeInUse。
func (s *Store) SaveAddress(address *domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.addresses[address.Code]; ok {
		return domain.ErrCodeInUse
	}

	clone := *address
	s.addresses[address.Code] = &clone
	if s.byOwner[address.ChatID] == nil {
		s.byOwner[address.ChatID] = make(map[string]struct{})
	}
	s.byOwner[address.ChatID][address.Code] = struct{}{}
	return nil
}

// GetAddress 根据码查询转发码。
func (s *Store) GetAddress(code string) (*domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	address, ok := s.addresses[code]
	if !ok {
		return nil, domain.ErrAddressNotFound
	}
	clone := *address
	return &clone, nil
}

// ListAddressesByOwner 返回某接收会话持有的转发码。
func (s *Store) ListAddressesByOwner(chatID string, filter storage.AddressFilter, now time.Time) ([]domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Address, 0)
	for code := range s.byOwner[chatID] {
		address := s.addresses[code]
		if filter == storage.FilterLive && pastRetention(address, now) {
			continue
		}
		result = append(result, *address)
	}
	return result, nil
}

// CountLiveAddresses 统计某接收会话未过期的转发码数量。
func (s *Store) CountLiveAddresses(chatID string, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for code := range s.byOwner[chatID] {
		if s.addresses[code].Live(now) {
			count++
		}
	}
	return count, nil
}

// UpdateAddressActive 更新启用标记并回填审计字段。
func (s *Store) UpdateAddressActive(code string, active bool, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	address, ok := s.addresses[code]
	if !ok {
		return domain.ErrAddressNotFound
	}
	address.Active = active
	address.UpdatedBy = updatedBy
	address.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateAddressValidUntil 更新有效期并回填审计字段。
func (s *Store) UpdateAddressValidUntil(code string, validUntil *time.Time, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	address, ok := s.addresses[code]
	if !ok {
		return domain.ErrAddressNotFound
	}
	address.ValidUntil = validUntil
	address.UpdatedBy = updatedBy
	address.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteAddress 删除转发码。码不存在时按无操作处理，
// 以便清理任务与手动删除并发执行。
func (s *Store) DeleteAddress(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	address, ok := s.addresses[code]
	if !ok {
		return nil
	}
	delete(s.addresses, code)
	if owned := s.byOwner[address.ChatID]; owned != nil {
		delete(owned, code)
		if len(owned) == 0 {
			delete(s.byOwner, address.ChatID)
		}
	}
	return nil
}

// ListReleaseReady 返回全部超过宽限期、可以永久删除的转发码。
func (s *Store) ListReleaseReady(now time.Time) ([]domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Address, 0)
	for _, address := range s.addresses {
		if address.ReleaseReady(now) {
			result = append(result, *address)
		}
	}
	return result, nil
}

// ListExpiredBetween 返回有效期落在 (from, to] 区间内的转发码。
func (s *Store) ListExpiredBetween(from, to time.Time) ([]domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Address, 0)
	for _, address := range s.addresses {
		if address.ValidUntil == nil {
			continue
		}
		vu := *address.ValidUntil
		if vu.After(from) && !vu.After(to) {
			result = append(result, *address)
		}
	}
	return result, nil
}

// pastRetention 判断转发码是否超出列表展示窗口。
func pastRetention(address *domain.Address, now time.Time) bool {
	return address.ValidUntil != nil && now.Sub(*address.ValidUntil) > domain.ListRetentionWindow
}

// ========== UserRepository ==========

// CreateUser 创建用户，已存在时返回 ErrUserExists。
func (s *Store) CreateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return storage.ErrUserExists
	}
	clone := *user
	s.users[user.ID] = &clone
	return nil
}

// GetUser 根据 ID 查询用户。
func (s *Store) GetUser(id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

// UpdateUserNickname 更新昵称并回填审计字段。
func (s *Store) UpdateUserNickname(id, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return storage.ErrUserNotFound
	}
	user.Nickname = nickname
	user.UpdatedBy = id
	user.UpdatedAt = time.Now().UTC()
	return nil
}

// ========== RecipientChatRepository ==========

// CreateRecipientChat 注册接收会话，已存在时返回 ErrChatExists。
func (s *Store) CreateRecipientChat(chat *domain.RecipientChat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chat.ChatID]; ok {
		return storage.ErrChatExists
	}
	clone := *chat
	s.chats[chat.ChatID] = &clone
	return nil
}

// GetRecipientChat 根据会话 ID 查询接收会话。
func (s *Store) GetRecipientChat(chatID string) (*domain.RecipientChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return nil, storage.ErrChatNotFound
	}
	clone := *chat
	return &clone, nil
}

// ========== BindingRepository ==========

// UpsertBinding 创建或覆盖用户的转发绑定。
func (s *Store) UpsertBinding(binding *domain.ForwardBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *binding
	if existing, ok := s.bindings[binding.UserID]; ok {
		clone.CreatedAt = existing.CreatedAt
		clone.CreatedBy = existing.CreatedBy
	}
	s.bindings[binding.UserID] = &clone
	return nil
}

// GetBinding 查询用户当前的转发绑定。
func (s *Store) GetBinding(userID string) (*domain.ForwardBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	binding, ok := s.bindings[userID]
	if !ok {
		return nil, storage.ErrBindingNotFound
	}
	clone := *binding
	return &clone, nil
}

// ========== RateLimiter ==========

// IncrementRateLimit 递增限流计数，窗口首次建立时设定过期时间。
func (s *Store) IncrementRateLimit(key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.rateLimits[key]
	if !ok || now.After(entry.ExpiresAt) {
		entry = &rateLimitEntry{ExpiresAt: now.Add(window)}
		s.rateLimits[key] = entry
	}
	entry.Count++
	return entry.Count, nil
}

// Close 关闭存储（内存实现无事可做）。
func (s *Store) Close() error { return nil }

// Health 存储健康检查。
func (s *Store) Health() error { return nil }
