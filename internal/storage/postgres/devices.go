package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Vasu1712/scenyx-realtime/internal/models"
)

// SaveDeviceToken registers a push token, moving it to the new user if it already exists.
func (s *PostgresDMStore) SaveDeviceToken(ctx context.Context, t models.DeviceToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO device_tokens (token, user_id, platform, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform
	`
	if _, err := s.db.ExecContext(ctx, query, t.Token, t.UserID, t.Platform, t.CreatedAt); err != nil {
		return fmt.Errorf("save device token for user %s: %w", t.UserID, err)
	}
	return nil
}

func (s *PostgresDMStore) DeleteDeviceToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_tokens WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete device token: %w", err)
	}
	return nil
}

func (s *PostgresDMStore) DeviceTokens(ctx context.Context, userID string) ([]models.DeviceToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, user_id, platform, created_at FROM device_tokens WHERE user_id = $1 ORDER BY token`, userID)
	if err != nil {
		return nil, fmt.Errorf("list device tokens for user %s: %w", userID, err)
	}
	defer rows.Close()

	var tokens []models.DeviceToken
	for rows.Next() {
		var t models.DeviceToken
		if err := rows.Scan(&t.Token, &t.UserID, &t.Platform, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
