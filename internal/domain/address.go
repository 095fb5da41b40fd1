package domain

import (
	"time"
)

const (
	// CodeLength 随机生成的转发码长度（字母+数字）
	CodeLength = 10

	// MaxAddressesPerOwner 单个接收方同时持有的有效转发码上限
	MaxAddressesPerOwner = 5

	// ReleaseGraceWindow 过期后保留的宽限期，超过后由清理任务永久删除
	ReleaseGraceWindow = 10 * 24 * time.Hour

	// ListRetentionWindow 列表展示的保留窗口：过期超过该窗口的转发码
	// 不再出现在 live 过滤结果中。与 ReleaseGraceWindow 取值不同，
	// 仅在清理任务停用时才会实际生效。
	ListRetentionWindow = 30 * 24 * time.Hour
)

// CodeAlphabet 转发码字符集
const CodeAlphabet = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Validity 表示转发码的有效期选项
type Validity string

const (
	ValidityOneDay     Validity = "1d"
	ValidityThreeDays  Validity = "3d"
	ValiditySevenDays  Validity = "7d"
	ValidityThirtyDays Validity = "30d"
	ValidityIndefinite Validity = "indefinite"
)

// Duration 返回有效期对应的时长，第二个返回值为 false 表示永久有效。
func (v Validity) Duration() (time.Duration, bool) {
	switch v {
	case ValidityOneDay:
		return 24 * time.Hour, true
	case ValidityThreeDays:
		return 3 * 24 * time.Hour, true
	case ValiditySevenDays:
		return 7 * 24 * time.Hour, true
	case ValidityThirtyDays:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Valid 判断是否为受支持的有效期选项。
func (v Validity) Valid() bool {
	switch v {
	case ValidityOneDay, ValidityThreeDays, ValiditySevenDays,
		ValidityThirtyDays, ValidityIndefinite:
		return true
	}
	return false
}

// Address 表示一个可分享的转发码：发送方通过它把点歌请求
// 路由到持有该码的接收方会话。
type Address struct {
	Code         string     `json:"code" gorm:"primaryKey;type:varchar(64)"`
	ChatID       string     `json:"chatId" gorm:"type:varchar(64);index;not null"`
	PasswordHash string     `json:"-" gorm:"type:varchar(255)"`
	Active       bool       `json:"active" gorm:"default:true"`
	ValidUntil   *time.Time `json:"validUntil,omitempty"` // nil 表示永久有效
	CreatedBy    string     `json:"createdBy" gorm:"type:varchar(64)"`
	UpdatedBy    string     `json:"updatedBy" gorm:"type:varchar(64)"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// HasPassword 判断转发码是否设置了口令。
func (a *Address) HasPassword() bool {
	return a.PasswordHash != ""
}

// Expired 判断转发码在 now 时刻是否已过期。永久有效的码永不过期。
func (a *Address) Expired(now time.Time) bool {
	return a.ValidUntil != nil && !a.ValidUntil.After(now)
}

// Live 判断转发码是否仍然有效（未过期，active 与否不影响）。
// 有效码计入持有上限。
func (a *Address) Live(now time.Time) bool {
	return !a.Expired(now)
}

// Usable 判断转发码是否可用于投递：active 且未过期。
func (a *Address) Usable(now time.Time) bool {
	return a.Active && !a.Expired(now)
}

// ReleaseReady 判断转发码是否超过宽限期、可以被清理任务删除。
func (a *Address) ReleaseReady(now time.Time) bool {
	return a.ValidUntil != nil && now.Sub(*a.ValidUntil) > ReleaseGraceWindow
}
