package sql

import (
	"database/sql"
	"errors"
	"time"

	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/storage"
)

// CreateUser 创建用户，已存在时返回 ErrUserExists。
func (s *Store) CreateUser(user *domain.User) error {
	query := s.rebind(`
		INSERT INTO users (id, nickname, role, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.Exec(query,
		user.ID,
		user.Nickname,
		user.Role,
		user.CreatedBy,
		user.UpdatedBy,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil && isDuplicateKey(err) {
		return storage.ErrUserExists
	}
	return err
}

// GetUser 根据 ID 查询用户。
func (s *Store) GetUser(id string) (*domain.User, error) {
	query := s.rebind(`
		SELECT id, nickname, role, created_by, updated_by, created_at, updated_at
		FROM users
		WHERE id = ?
	`)
	var user domain.User
	err := s.db.QueryRow(query, id).Scan(
		&user.ID,
		&user.Nickname,
		&user.Role,
		&user.CreatedBy,
		&user.UpdatedBy,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserNickname 更新昵称并回填审计字段。
func (s *Store) UpdateUserNickname(id, nickname string) error {
	query := s.rebind(`
		UPDATE users
		SET nickname = ?, updated_by = ?, updated_at = ?
		WHERE id = ?
	`)
	result, err := s.db.Exec(query, nickname, id, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// CreateRecipientChat 注册接收会话，已存在时返回 ErrChatExists。
func (s *Store) CreateRecipientChat(chat *domain.RecipientChat) error {
	query := s.rebind(`
		INSERT INTO recipient_chats (chat_id, chat_kind, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.Exec(query,
		chat.ChatID,
		chat.ChatKind,
		chat.CreatedBy,
		chat.UpdatedBy,
		chat.CreatedAt,
		chat.UpdatedAt,
	)
	if err != nil && isDuplicateKey(err) {
		return storage.ErrChatExists
	}
	return err
}

// GetRecipientChat 根据会话 ID 查询接收会话。
func (s *Store) GetRecipientChat(chatID string) (*domain.RecipientChat, error) {
	query := s.rebind(`
		SELECT chat_id, chat_kind, created_by, updated_by, created_at, updated_at
		FROM recipient_chats
		WHERE chat_id = ?
	`)
	var chat domain.RecipientChat
	err := s.db.QueryRow(query, chatID).Scan(
		&chat.ChatID,
		&chat.ChatKind,
		&chat.CreatedBy,
		&chat.UpdatedBy,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// UpsertBinding 创建或覆盖用户的转发绑定。
func (s *Store) UpsertBinding(binding *domain.ForwardBinding) error {
	var query string
	if s.driverName == "postgres" {
		query = s.rebind(`
			INSERT INTO forward_bindings (user_id, address_code, created_by, updated_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE
			SET address_code = EXCLUDED.address_code,
			    updated_by = EXCLUDED.updated_by,
			    updated_at = EXCLUDED.updated_at
		`)
	} else {
		query = `
			INSERT INTO forward_bindings (user_id, address_code, created_by, updated_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
			address_code = VALUES(address_code),
			updated_by = VALUES(updated_by),
			updated_at = VALUES(updated_at)
		`
	}
	_, err := s.db.Exec(query,
		binding.UserID,
		binding.AddressCode,
		binding.CreatedBy,
		binding.UpdatedBy,
		binding.CreatedAt,
		binding.UpdatedAt,
	)
	return err
}

// GetBinding 查询用户当前的转发绑定。
func (s *Store) GetBinding(userID string) (*domain.ForwardBinding, error) {
	query := s.rebind(`
		SELECT user_id, address_code, created_by, updated_by, created_at, updated_at
		FROM forward_bindings
		WHERE user_id = ?
	`)
	var binding domain.ForwardBinding
	err := s.db.QueryRow(query, userID).Scan(
		&binding.UserID,
		&binding.AddressCode,
		&binding.CreatedBy,
		&binding.UpdatedBy,
		&binding.CreatedAt,
		&binding.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrBindingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &binding, nil
}
