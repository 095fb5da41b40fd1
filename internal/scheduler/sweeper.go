package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"songrelay/backend/internal/monitoring"
	"songrelay/backend/internal/pool"
	"songrelay/backend/internal/service"
	"songrelay/backend/internal/transport"
)

// Sweeper 周期性执行两类清理：提醒刚过期的转发码，
// 释放过了宽限期的转发码。单次执行失败不影响下一轮。
type Sweeper struct {
	addresses *service.AddressService
	notifier  transport.Notifier
	workers   *pool.WorkerPool
	metrics   *monitoring.Metrics
	interval  time.Duration
	log       *zap.Logger

	// 上一次过期提醒成功覆盖到的时间点。下一轮以它为下界，
	// 调度延迟只会加宽区间（at-least-once）。
	lastRun time.Time
	now     func() time.Time
}

// NewSweeper 创建清理任务。metrics 可以为 nil。
func NewSweeper(addresses *service.AddressService, notifier transport.Notifier, workers *pool.WorkerPool, metrics *monitoring.Metrics, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		addresses: addresses,
		notifier:  notifier,
		workers:   workers,
		metrics:   metrics,
		interval:  interval,
		log:       log,
		now:       time.Now,
	}
}

// SetClock 替换时间源，仅用于测试。
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run 启动周期执行，直到 ctx 取消。启动时先跑一次。
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce 执行一轮清理。
func (s *Sweeper) RunOnce() {
	start := s.now()
	s.notifyJustExpired()
	s.releaseExpired()

	if s.metrics != nil {
		s.metrics.SweepDuration.WithLabelValues("cycle").Observe(s.now().Sub(start).Seconds())
	}
}

// notifyJustExpired 提醒持有者有码刚过期，即将进入宽限期倒计时。
func (s *Sweeper) notifyJustExpired() {
	to := s.now().UTC()
	from := s.lastRun
	if from.IsZero() {
		from = to.Add(-s.interval)
	}

	expired, err := s.addresses.SweepJustExpired(from, to)
	if err != nil {
		s.log.Error("expiry notification sweep failed", zap.Error(err))
		return
	}
	s.lastRun = to

	for chatID, codes := range expired {
		s.dispatch(chatID, fmt.Sprintf(
			"Your address code(s) %s expired. They will be permanently released after the grace period.",
			strings.Join(codes, ", ")))
	}
	if s.metrics != nil {
		s.metrics.AddressesSwept.WithLabelValues("expired").Add(float64(countCodes(expired)))
	}
}

// releaseExpired 删除过了宽限期的码并通知原持有者。
func (s *Sweeper) releaseExpired() {
	removed, err := s.addresses.SweepRelease()
	if err != nil {
		s.log.Error("release sweep failed", zap.Error(err))
		return
	}

	for chatID, codes := range removed {
		s.dispatch(chatID, fmt.Sprintf(
			"Your address code(s) %s have been released and may be claimed by others.",
			strings.Join(codes, ", ")))
	}
	if s.metrics != nil {
		s.metrics.AddressesSwept.WithLabelValues("released").Add(float64(countCodes(removed)))
	}
}

// dispatch 把一条通知交给协程池投递。投递结果尽力而为，
// 收不到提醒的持有者下次列出转发码时也能看到状态。
func (s *Sweeper) dispatch(chatID, text string) {
	ok := s.workers.TrySubmit(func() {
		outcome := s.notifier.Notify(chatID, text)
		if outcome != transport.OutcomeDelivered {
			s.log.Debug("sweep notice not delivered",
				zap.String("chat_id", chatID),
				zap.String("outcome", outcome.String()))
		}
	})
	if !ok {
		s.log.Warn("notification queue full, dropping sweep notice",
			zap.String("chat_id", chatID))
	}
}

func countCodes(grouped service.OwnerCodes) int {
	total := 0
	for _, codes := range grouped {
		total += len(codes)
	}
	return total
}
