package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"songrelay/backend/internal/config"
	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/storage"
	"songrelay/backend/internal/transport"
)

// transientRetryBackoff 瞬时投递失败后的重试等待时间。
const transientRetryBackoff = 2 * time.Second

// RequestService 负责点歌请求的限流与投递。
type RequestService struct {
	bindings *BindingService
	limiter  storage.RateLimiter
	notifier transport.Notifier
	cfg      *config.Config
	log      *zap.Logger

	sleep func(time.Duration)
}

// NewRequestService 创建点歌投递服务。limiter 为 nil 时不做频率限制。
func NewRequestService(bindings *BindingService, limiter storage.RateLimiter, notifier transport.Notifier, cfg *config.Config, log *zap.Logger) *RequestService {
	return &RequestService{
		bindings: bindings,
		limiter:  limiter,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		sleep:    time.Sleep,
	}
}

// CheckRate 消耗发送方的一次点歌额度，超出频率限制返回 ErrRateLimited。
// 在会话开始组装请求前调用，避免发送方填完整个表单才被拒绝。
func (s *RequestService) CheckRate(senderID string) error {
	if s.limiter == nil {
		return nil
	}
	key := fmt.Sprintf("songreq:%s", senderID)
	count, err := s.limiter.IncrementRateLimit(key, s.cfg.Relay.RequestInterval)
	if err != nil {
		// 限流后端不可用时放行，投递功能优先于限流精度。
		s.log.Warn("rate limiter unavailable", zap.Error(err))
		return nil
	}
	if count > 1 {
		return domain.ErrRateLimited
	}
	return nil
}

// Submit 把请求投递到发送方当前绑定地址对应的接收会话。
// 地址解析失败时原样返回领域错误；投递失败时尽力而为，
// 瞬时失败重试一次，仍失败则记录日志并返回 ErrTransientDelivery。
func (s *RequestService) Submit(req *domain.SongRequest) error {
	chatID, err := s.bindings.Resolve(req.SenderID)
	if err != nil {
		return err
	}

	text := req.RenderForRecipient()
	outcome := s.notifier.Notify(chatID, text)
	if outcome == transport.OutcomeTransientFailure {
		s.sleep(transientRetryBackoff)
		outcome = s.notifier.Notify(chatID, text)
	}

	switch outcome {
	case transport.OutcomeDelivered:
		s.log.Info("song request delivered",
			zap.String("sender", req.SenderID),
			zap.String("chat_id", chatID))
		return nil
	case transport.OutcomeUnreachable:
		s.log.Warn("recipient unreachable",
			zap.String("sender", req.SenderID),
			zap.String("chat_id", chatID))
		return domain.ErrRecipientUnreachable
	default:
		s.log.Warn("song request delivery failed",
			zap.String("sender", req.SenderID),
			zap.String("chat_id", chatID),
			zap.String("outcome", outcome.String()))
		return domain.ErrTransientDelivery
	}
}
