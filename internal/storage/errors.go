package storage

import "errors"

var (
	// ErrUserNotFound 用户记录不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists 用户记录已存在
	ErrUserExists = errors.New("user already exists")
	// ErrChatNotFound 接收会话不存在
	ErrChatNotFound = errors.New("recipient chat not found")
	// ErrChatExists 接收会话已注册
	ErrChatExists = errors.New("recipient chat already exists")
	// ErrBindingNotFound 转发绑定不存在
	ErrBindingNotFound = errors.New("forward binding not found")
)
