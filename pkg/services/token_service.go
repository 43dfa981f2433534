package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/db"
	"github.com/narcissus123/continuity/pkg/db/queries"
	"github.com/narcissus123/continuity/pkg/metrics"
	log "github.com/sirupsen/logrus"
)

// DefaultTokenTTL is how long a verification token stays redeemable.
const DefaultTokenTTL = time.Hour

// TokenService issues and redeems single-use email verification tokens.
type TokenService struct {
	store *db.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewTokenService(store *db.Store, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{store: store, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Used by tests to move past expiry.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// Issue creates a new token for email. Outstanding unused tokens for the same
// email are invalidated in the same transaction, so only the newest token
// can ever be redeemed.
func (s *TokenService) Issue(ctx context.Context, email string) (*db.VerificationToken, error) {
	now := s.now().UTC()
	token := &db.VerificationToken{
		Token:     uuid.NewString(),
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		superseded, err := queries.InvalidateActiveTokens(ctx, tx, email)
		if err != nil {
			return err
		}
		if superseded > 0 {
			log.Infof("Invalidated %d outstanding verification token(s) for %s", superseded, email)
		}
		return queries.CreateVerificationToken(ctx, tx, token)
	})
	if err != nil {
		return nil, apperr.Internal("Could not create a verification token.", err)
	}

	metrics.TokensIssuedTotal.Inc()
	log.Infof("Verification token issued for %s, expires at %s", email, token.ExpiresAt.Format(time.RFC3339))
	return token, nil
}

// Redeem consumes token and returns the email it was issued for. Unknown,
// used and expired tokens all fail the same way.
func (s *TokenService) Redeem(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		metrics.TokenRedemptionsTotal.WithLabelValues("rejected").Inc()
		return "", apperr.New(apperr.ReasonInvalidToken, "Invalid or expired token. Please request a new verification email.")
	}

	email, ok, err := queries.ConsumeVerificationToken(ctx, s.store.DB, token, s.now())
	if err != nil {
		metrics.TokenRedemptionsTotal.WithLabelValues("error").Inc()
		return "", apperr.Internal("Could not check the verification token.", err)
	}
	if !ok {
		metrics.TokenRedemptionsTotal.WithLabelValues("rejected").Inc()
		return "", apperr.New(apperr.ReasonInvalidToken, "Invalid or expired token. Please request a new verification email.")
	}

	metrics.TokenRedemptionsTotal.WithLabelValues("accepted").Inc()
	return email, nil
}

// Sweep deletes used and expired tokens and returns how many were removed.
func (s *TokenService) Sweep(ctx context.Context) (int64, error) {
	n, err := queries.DeleteInertTokens(ctx, s.store.DB, s.now())
	if err != nil {
		return 0, err
	}
	metrics.TokensSweptTotal.Add(float64(n))
	return n, nil
}
