package domain

import "time"

// ForwardBinding 记录发送方当前绑定的转发码。每个用户至多一条，
// 重新绑定时覆盖而不是新增。对转发码是弱引用：码被删除后绑定悬空，
// 下次解析时按未找到处理。
type ForwardBinding struct {
	UserID      string    `json:"userId" gorm:"primaryKey;type:varchar(64)"`
	AddressCode string    `json:"addressCode" gorm:"type:varchar(64);not null"`
	CreatedBy   string    `json:"createdBy" gorm:"type:varchar(64)"`
	UpdatedBy   string    `json:"updatedBy" gorm:"type:varchar(64)"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
