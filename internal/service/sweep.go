package service

import (
	"time"

	"go.uber.org/zap"
)

// OwnerCodes 按接收会话分组的转发码集合，用于清理后的通知。
type OwnerCodes map[string][]string

// SweepRelease 删除全部超过宽限期的转发码，返回按所属会话
// 分组的已删除码。可以重复执行，也可以与手动删除并发执行：
// 删除已经不存在的码是无操作。单条失败只记录日志，不中断批次。
func (s *AddressService) SweepRelease() (OwnerCodes, error) {
	now := s.now().UTC()

	ready, err := s.repo.ListReleaseReady(now)
	if err != nil {
		return nil, err
	}
	if len(ready) == 0 {
		s.log.Debug("release sweep finished, nothing to remove")
		return OwnerCodes{}, nil
	}

	removed := OwnerCodes{}
	for _, address := range ready {
		if err := s.repo.DeleteAddress(address.Code); err != nil {
			s.log.Error("failed to release expired address",
				zap.String("code", address.Code),
				zap.Error(err),
			)
			continue
		}
		removed[address.ChatID] = append(removed[address.ChatID], address.Code)
	}

	s.log.Info("release sweep finished",
		zap.Int("removed", len(ready)),
		zap.Int("owners", len(removed)),
	)
	return removed, nil
}

// SweepJustExpired 返回有效期落在 (from, to] 区间内的转发码，
// 按所属会话分组，供“即将被清理”的提醒使用。调用方传入上一次
// 成功执行的时间作为下界：调度延迟只会加宽区间，不会漏报
// （at-least-once，极端情况下可能重复提醒）。
func (s *AddressService) SweepJustExpired(from, to time.Time) (OwnerCodes, error) {
	expired, err := s.repo.ListExpiredBetween(from, to)
	if err != nil {
		return nil, err
	}

	grouped := OwnerCodes{}
	for _, address := range expired {
		grouped[address.ChatID] = append(grouped[address.ChatID], address.Code)
	}

	if len(expired) > 0 {
		s.log.Info("expiry notification sweep finished",
			zap.Int("expired", len(expired)),
			zap.Time("from", from),
			zap.Time("to", to),
		)
	}
	return grouped, nil
}
