package queries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/narcissus123/continuity/pkg/db"
	log "github.com/sirupsen/logrus"
)

// CreateVerificationToken stores a freshly issued token.
func CreateVerificationToken(ctx context.Context, q sqlx.ExtContext, token *db.VerificationToken) error {
	query := `
		INSERT INTO verification_tokens (token, email, created_at, expires_at, used)
		VALUES (:token, :email, :created_at, :expires_at, :used)`
	if _, err := sqlx.NamedExecContext(ctx, q, query, token); err != nil {
		log.Errorf("Error storing verification token for '%s': %v", token.Email, err)
		return fmt.Errorf("create verification token: %w", err)
	}
	return nil
}

// InvalidateActiveTokens marks every unused token of email as used and
// returns how many were still outstanding.
func InvalidateActiveTokens(ctx context.Context, q sqlx.ExtContext, email string) (int64, error) {
	query := q.Rebind(`UPDATE verification_tokens SET used = TRUE WHERE email = ? AND used = FALSE`)
	res, err := q.ExecContext(ctx, query, email)
	if err != nil {
		log.Errorf("Error invalidating tokens for '%s': %v", email, err)
		return 0, fmt.Errorf("invalidate tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ConsumeVerificationToken flips a live token to used in a single statement
// and returns its email. ok is false when the token is unknown, already used,
// or expired at now.
func ConsumeVerificationToken(ctx context.Context, q sqlx.ExtContext, token string, now time.Time) (email string, ok bool, err error) {
	query := q.Rebind(`
		UPDATE verification_tokens SET used = TRUE
		WHERE token = ? AND used = FALSE AND expires_at > ?
		RETURNING email`)
	if err := sqlx.GetContext(ctx, q, &email, query, token, now.UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("Verification token rejected: unknown, used or expired.")
			return "", false, nil
		}
		log.Errorf("Error consuming verification token: %v", err)
		return "", false, fmt.Errorf("consume verification token: %w", err)
	}
	return email, true, nil
}

// DeleteInertTokens removes used or expired tokens and returns the count.
func DeleteInertTokens(ctx context.Context, q sqlx.ExtContext, now time.Time) (int64, error) {
	query := q.Rebind(`DELETE FROM verification_tokens WHERE used = TRUE OR expires_at < ?`)
	res, err := q.ExecContext(ctx, query, now.UTC())
	if err != nil {
		log.Errorf("Error sweeping verification tokens: %v", err)
		return 0, fmt.Errorf("sweep verification tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
