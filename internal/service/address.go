package service

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"songrelay/backend/internal/config"
	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/monitoring"
	"songrelay/backend/internal/storage"
)

// maxCodeAttempts 随机生成转发码时的最大尝试次数，
// 防止存储被打满（或测试替身恒返回冲突）时死循环。
const maxCodeAttempts = 64

// AddressService 封装转发码的全部生命周期业务规则。
type AddressService struct {
	repo    storage.AddressRepository
	cfg     *config.Config
	log     *zap.Logger
	metrics *monitoring.Metrics

	randMu sync.Mutex
	random *rand.Rand

	now func() time.Time
}

// NewAddressService 创建转发码业务服务。
func NewAddressService(repo storage.AddressRepository, cfg *config.Config, log *zap.Logger) *AddressService {
	return &AddressService{
		repo:   repo,
		cfg:    cfg,
		log:    log,
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
	}
}

// SetClock 替换时间源，仅用于测试。
func (s *AddressService) SetClock(now func() time.Time) {
	s.now = now
}

// SetMetrics 挂上监控指标，可选。
func (s *AddressService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// CreateAddressInput 定义创建转发码所需的输入。
type CreateAddressInput struct {
	ChatID   string          // 所属接收会话
	Code     string          // 自定义码，留空表示随机生成
	Validity domain.Validity // 有效期选项
	Password string          // 明文口令，留空表示不设口令，只保存哈希
}

// Create 创建新的转发码。
func (s *AddressService) Create(input CreateAddressInput) (*domain.Address, error) {
	now := s.now().UTC()

	count, err := s.repo.CountLiveAddresses(input.ChatID, now)
	if err != nil {
		return nil, fmt.Errorf("count live addresses: %w", err)
	}
	if count >= domain.MaxAddressesPerOwner {
		return nil, domain.ErrOwnerLimitExceeded
	}

	code := strings.TrimSpace(input.Code)
	if code == "" {
		code, err = s.generateCode()
		if err != nil {
			return nil, err
		}
	} else if s.CodeExists(code) {
		// 自定义码与任何现存记录（含已过期的）冲突都拒绝
		return nil, domain.ErrCodeInUse
	}

	var passwordHash string
	if input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = string(hash)
	}

	var validUntil *time.Time
	if duration, bounded := input.Validity.Duration(); bounded {
		t := now.Add(duration)
		validUntil = &t
	}

	address := &domain.Address{
		Code:         code,
		ChatID:       input.ChatID,
		PasswordHash: passwordHash,
		Active:       true,
		ValidUntil:   validUntil,
		CreatedBy:    input.ChatID,
		UpdatedBy:    input.ChatID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.SaveAddress(address); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.AddressesCreated.Inc()
	}
	s.log.Info("address created",
		zap.String("code", address.Code),
		zap.String("chat_id", address.ChatID),
		zap.Bool("has_password", address.HasPassword()),
	)
	return address, nil
}

// Get 根据码查询转发码。
func (s *AddressService) Get(code string) (*domain.Address, error) {
	return s.repo.GetAddress(code)
}

// LiveCount 返回某接收会话当前存活（未过期）的转发码数量。
func (s *AddressService) LiveCount(chatID string) (int, error) {
	return s.repo.CountLiveAddresses(chatID, s.now())
}

// CodeExists 判断码是否已被占用（不区分存活与过期）。
func (s *AddressService) CodeExists(code string) bool {
	_, err := s.repo.GetAddress(code)
	return err == nil
}

// Toggle 翻转转发码的启用标记，返回新的状态。
// 已过期的码不允许再切换。
func (s *AddressService) Toggle(code string) (bool, error) {
	address, err := s.repo.GetAddress(code)
	if err != nil {
		return false, err
	}
	if address.Expired(s.now()) {
		return false, domain.ErrAddressExpired
	}

	next := !address.Active
	if err := s.repo.UpdateAddressActive(code, next, address.ChatID); err != nil {
		return false, err
	}
	return next, nil
}

// ExpireNow 把转发码的有效期提前到当前时刻，用于手动移除
// 同时保留审计痕迹。对已过期的码是无操作。
func (s *AddressService) ExpireNow(code string) error {
	address, err := s.repo.GetAddress(code)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if address.Expired(now) {
		return nil
	}
	return s.repo.UpdateAddressValidUntil(code, &now, address.ChatID)
}

// Release 永久删除转发码。任何状态下都允许，码不存在时为无操作。
func (s *AddressService) Release(code string) error {
	return s.repo.DeleteAddress(code)
}

// ListForOwner 返回某接收会话持有的转发码。
func (s *AddressService) ListForOwner(chatID string, filter storage.AddressFilter) ([]domain.Address, error) {
	return s.repo.ListAddressesByOwner(chatID, filter, s.now())
}

// Render 渲染某接收会话的转发码报告：可用的码列在 Active 段并
// 标注有效期（本地时区），不可用的码列在 Inactive 段并标注原因。
func (s *AddressService) Render(chatID string) (string, error) {
	addresses, err := s.ListForOwner(chatID, storage.FilterLive)
	if err != nil {
		return "", err
	}
	if len(addresses) == 0 {
		return "You don't have any addresses yet.", nil
	}

	sort.Slice(addresses, func(i, j int) bool {
		return addresses[i].Code < addresses[j].Code
	})

	now := s.now()
	location := s.cfg.Relay.Location
	if location == nil {
		location = time.Local
	}

	var active, inactive []string
	for _, address := range addresses {
		switch {
		case address.Usable(now):
			active = append(active, fmt.Sprintf("%s - %s", address.Code, renderValidity(&address, location)))
		case address.Expired(now):
			inactive = append(inactive, fmt.Sprintf("%s - expired", address.Code))
		default:
			inactive = append(inactive, fmt.Sprintf("%s - inactive", address.Code))
		}
	}

	var b strings.Builder
	b.WriteString("Active addresses:\n")
	if len(active) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, line := range active {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	b.WriteString("Inactive addresses:\n")
	if len(inactive) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, line := range inactive {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// renderValidity 渲染有效期文本。
func renderValidity(address *domain.Address, location *time.Location) string {
	if address.ValidUntil == nil {
		return "always valid"
	}
	return "valid until " + address.ValidUntil.In(location).Format("2006-01-02 15:04")
}

// VerifyPassword 校验明文口令与存储哈希是否匹配。
func VerifyPassword(address *domain.Address, attempt string) error {
	if !address.HasPassword() {
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(address.PasswordHash), []byte(attempt)) != nil {
		return domain.ErrPasswordMismatch
	}
	return nil
}

// generateCode 随机生成一个未被占用的转发码。
func (s *AddressService) generateCode() (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.randomCode()
		_, err := s.repo.GetAddress(code)
		if errors.Is(err, domain.ErrAddressNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("could not find a free address code after %d attempts", maxCodeAttempts)
}

// randomCode 生成固定长度的字母数字码。
func (s *AddressService) randomCode() string {
	s.randMu.Lock()
	defer s.randMu.Unlock()

	b := make([]byte, domain.CodeLength)
	for i := range b {
		b[i] = domain.CodeAlphabet[s.random.Intn(len(domain.CodeAlphabet))]
	}
	return string(b)
}
