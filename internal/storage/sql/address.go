package sql

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"songrelay/backend/internal/domain"
	"songrelay/backend/internal/storage"
)

// SaveAddress 保存新的转发码，码冲突时返回 ErrCodeInUse。
func (s *Store) SaveAddress(address *domain.Address) error {
	query := s.rebind(`
		INSERT INTO addresses (code, chat_id, password_hash, active, valid_until,
		                       created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.Exec(query,
		address.Code,
		address.ChatID,
		address.PasswordHash,
		address.Active,
		address.ValidUntil,
		address.CreatedBy,
		address.UpdatedBy,
		address.CreatedAt,
		address.UpdatedAt,
	)
	if err != nil && isDuplicateKey(err) {
		return domain.ErrCodeInUse
	}
	return err
}

// GetAddress 根据码查询转发码。
func (s *Store) GetAddress(code string) (*domain.Address, error) {
	query := s.rebind(`
		SELECT code, chat_id, password_hash, active, valid_until,
		       created_by, updated_by, created_at, updated_at
		FROM addresses
		WHERE code = ?
	`)
	address, err := s.scanAddress(s.db.QueryRow(query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAddressNotFound
	}
	return address, err
}

// ListAddressesByOwner 返回某接收会话持有的转发码。
func (s *Store) ListAddressesByOwner(chatID string, filter storage.AddressFilter, now time.Time) ([]domain.Address, error) {
	query := `
		SELECT code, chat_id, password_hash, active, valid_until,
		       created_by, updated_by, created_at, updated_at
		FROM addresses
		WHERE chat_id = ?
	`
	args := []interface{}{chatID}
	if filter == storage.FilterLive {
		query += " AND (valid_until IS NULL OR valid_until > ?)"
		args = append(args, now.Add(-domain.ListRetentionWindow))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectAddresses(rows)
}

// CountLiveAddresses 统计某接收会话未过期的转发码数量。
func (s *Store) CountLiveAddresses(chatID string, now time.Time) (int, error) {
	query := s.rebind(`
		SELECT COUNT(*)
		FROM addresses
		WHERE chat_id = ? AND (valid_until IS NULL OR valid_until > ?)
	`)
	var count int
	err := s.db.QueryRow(query, chatID, now).Scan(&count)
	return count, err
}

// UpdateAddressActive 更新启用标记并回填审计字段。
func (s *Store) UpdateAddressActive(code string, active bool, updatedBy string) error {
	query := s.rebind(`
		UPDATE addresses
		SET active = ?, updated_by = ?, updated_at = ?
		WHERE code = ?
	`)
	result, err := s.db.Exec(query, active, updatedBy, time.Now().UTC(), code)
	if err != nil {
		return err
	}
	return s.requireRow(result)
}

// UpdateAddressValidUntil 更新有效期并回填审计字段。
func (s *Store) UpdateAddressValidUntil(code string, validUntil *time.Time, updatedBy string) error {
	query := s.rebind(`
		UPDATE addresses
		SET valid_until = ?, updated_by = ?, updated_at = ?
		WHERE code = ?
	`)
	result, err := s.db.Exec(query, validUntil, updatedBy, time.Now().UTC(), code)
	if err != nil {
		return err
	}
	return s.requireRow(result)
}

// DeleteAddress 删除转发码，码不存在时按无操作处理。
func (s *Store) DeleteAddress(code string) error {
	query := s.rebind(`DELETE FROM addresses WHERE code = ?`)
	_, err := s.db.Exec(query, code)
	return err
}

// ListReleaseReady 返回全部超过宽限期、可以永久删除的转发码。
func (s *Store) ListReleaseReady(now time.Time) ([]domain.Address, error) {
	query := s.rebind(`
		SELECT code, chat_id, password_hash, active, valid_until,
		       created_by, updated_by, created_at, updated_at
		FROM addresses
		WHERE valid_until IS NOT NULL AND valid_until < ?
	`)
	rows, err := s.db.Query(query, now.Add(-domain.ReleaseGraceWindow))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectAddresses(rows)
}

// ListExpiredBetween 返回有效期落在 (from, to] 区间内的转发码。
func (s *Store) ListExpiredBetween(from, to time.Time) ([]domain.Address, error) {
	query := s.rebind(`
		SELECT code, chat_id, password_hash, active, valid_until,
		       created_by, updated_by, created_at, updated_at
		FROM addresses
		WHERE valid_until IS NOT NULL AND valid_until > ? AND valid_until <= ?
	`)
	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectAddresses(rows)
}

// scanAddress 扫描单行转发码记录。
func (s *Store) scanAddress(row *sql.Row) (*domain.Address, error) {
	var address domain.Address
	var validUntil sql.NullTime

	err := row.Scan(
		&address.Code,
		&address.ChatID,
		&address.PasswordHash,
		&address.Active,
		&validUntil,
		&address.CreatedBy,
		&address.UpdatedBy,
		&address.CreatedAt,
		&address.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if validUntil.Valid {
		address.ValidUntil = &validUntil.Time
	}
	return &address, nil
}

// collectAddresses 扫描多行转发码记录。
func (s *Store) collectAddresses(rows *sql.Rows) ([]domain.Address, error) {
	result := make([]domain.Address, 0)
	for rows.Next() {
		var address domain.Address
		var validUntil sql.NullTime
		err := rows.Scan(
			&address.Code,
			&address.ChatID,
			&address.PasswordHash,
			&address.Active,
			&validUntil,
			&address.CreatedBy,
			&address.UpdatedBy,
			&address.CreatedAt,
			&address.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if validUntil.Valid {
			address.ValidUntil = &validUntil.Time
		}
		result = append(result, address)
	}
	return result, rows.Err()
}

// requireRow 将零行更新视为记录不存在。
func (s *Store) requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrAddressNotFound
	}
	return nil
}

// isDuplicateKey 判断是否为唯一约束冲突。
// MySQL: Error 1062 (duplicate entry)；PostgreSQL: SQLSTATE 23505。
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "23505") ||
		strings.Contains(msg, "1062")
}
