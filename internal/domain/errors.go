package domain

import "errors"

var (
	// ErrNotRegistered 用户尚未注册
	ErrNotRegistered = errors.New("user not registered")
	// ErrAlreadyRegistered 用户已经注册
	ErrAlreadyRegistered = errors.New("user already registered")
	// ErrCodeInUse 转发码已被占用
	ErrCodeInUse = errors.New("address code already in use")
	// ErrOwnerLimitExceeded 接收方持有的有效转发码已达上限
	ErrOwnerLimitExceeded = errors.New("owner address limit exceeded")
	// ErrAddressNotFound 转发码不存在
	ErrAddressNotFound = errors.New("address not found")
	// ErrAddressNotActive 转发码已停用
	ErrAddressNotActive = errors.New("address not active")
	// ErrAddressExpired 转发码已过期
	ErrAddressExpired = errors.New("address expired")
	// ErrPasswordMismatch 口令不匹配
	ErrPasswordMismatch = errors.New("address password mismatch")
	// ErrTooManyAttempts 口令尝试次数超限
	ErrTooManyAttempts = errors.New("too many password attempts")
	// ErrNotesTooLong 点歌备注超长
	ErrNotesTooLong = errors.New("notes too long")
	// ErrRateLimited 点歌请求触发频率限制
	ErrRateLimited = errors.New("request rate limited")
	// ErrTransientDelivery 投递瞬时失败，可重试一次
	ErrTransientDelivery = errors.New("transient delivery failure")
	// ErrRecipientUnreachable 接收方不可达
	ErrRecipientUnreachable = errors.New("recipient unreachable")
)
