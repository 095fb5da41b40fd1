package domain

import "time"

// Role 用户角色
type Role string

const (
	RoleSender    Role = "sender"
	RoleRecipient Role = "recipient"
)

// User 表示发送方身份。首次注册时创建，身份不可变更，
// 昵称可由本人修改，记录不会被删除。
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Nickname  string    `json:"nickname" gorm:"type:varchar(64)"`
	Role      Role      `json:"role" gorm:"type:varchar(16);not null"`
	CreatedBy string    `json:"createdBy" gorm:"type:varchar(64)"`
	UpdatedBy string    `json:"updatedBy" gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DisplayName 返回用于展示的昵称，未设置时回退为匿名展示名。
func (u *User) DisplayName() string {
	if u.Nickname == "" {
		return "Unknown user"
	}
	return u.Nickname
}

// ChatKind 会话类型
type ChatKind string

const (
	ChatKindPrivate ChatKind = "private"
	ChatKindGroup   ChatKind = "group"
)

// RecipientChat 表示能够接收点歌请求的目标会话。
// 每个目标只注册一次，重复注册按无操作处理。
type RecipientChat struct {
	ChatID    string    `json:"chatId" gorm:"primaryKey;type:varchar(64)"`
	ChatKind  ChatKind  `json:"chatKind" gorm:"type:varchar(16);not null"`
	CreatedBy string    `json:"createdBy" gorm:"type:varchar(64)"`
	UpdatedBy string    `json:"updatedBy" gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
