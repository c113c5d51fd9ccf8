package repositories

import (
	"context"
	"database/sql"
	"time"
)

// DeviceTokenRepository stores FCM registration tokens per user.
type DeviceTokenRepository struct {
	DB      *sql.DB
	Dialect Dialect
}

// Register is idempotent; re-registering the same token is not an error.
func (r *DeviceTokenRepository) Register(ctx context.Context, userID, token string, now time.Time) error {
	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`INSERT INTO device_tokens (user_id, token, created_at) VALUES (?, ?, ?)`),
		userID, token, now)
	if err != nil && !isDuplicateKey(err) {
		return err
	}
	return nil
}

func (r *DeviceTokenRepository) Delete(ctx context.Context, userID, token string) error {
	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`DELETE FROM device_tokens WHERE user_id = ? AND token = ?`), userID, token)
	return err
}

func (r *DeviceTokenRepository) TokensForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(`SELECT token FROM device_tokens WHERE user_id = ?`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}
