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

const userColumns = `user_id, email, user_name, monthly_cost, plan_tier, created_at, updated_at`

// CreateUser inserts a new user. The id is derived from the email when unset.
func CreateUser(ctx context.Context, q sqlx.ExtContext, user *db.User) (*db.User, error) {
	now := time.Now().UTC()
	if user.UserID == "" {
		user.UserID = db.UserIDForEmail(user.Email)
	}
	if user.PlanTier == "" {
		user.PlanTier = db.DefaultPlanTier
	}
	user.CreatedAt, user.UpdatedAt = now, now

	query := `
		INSERT INTO users (user_id, email, user_name, monthly_cost, plan_tier, created_at, updated_at)
		VALUES (:user_id, :email, :user_name, :monthly_cost, :plan_tier, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, q, query, user); err != nil {
		log.Errorf("Error creating user %s: %v", user.Email, err)
		return nil, fmt.Errorf("create user: %w", err)
	}

	log.Infof("User %s created with ID: %s", user.Email, user.UserID)
	return user, nil
}

// FindUserByEmail retrieves a user by email. It returns nil, nil when absent.
func FindUserByEmail(ctx context.Context, q sqlx.ExtContext, email string) (*db.User, error) {
	user := &db.User{}
	query := q.Rebind(`SELECT ` + userColumns + ` FROM users WHERE email = ?`)
	if err := sqlx.GetContext(ctx, q, user, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("User with email '%s' not found.", email)
			return nil, nil
		}
		log.Errorf("Error finding user by email '%s': %v", email, err)
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return user, nil
}

// FindUserByID retrieves a user by id. It returns nil, nil when absent.
func FindUserByID(ctx context.Context, q sqlx.ExtContext, userID string) (*db.User, error) {
	user := &db.User{}
	query := q.Rebind(`SELECT ` + userColumns + ` FROM users WHERE user_id = ?`)
	if err := sqlx.GetContext(ctx, q, user, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debugf("User with ID '%s' not found.", userID)
			return nil, nil
		}
		log.Errorf("Error finding user by ID '%s': %v", userID, err)
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return user, nil
}

// UpdateUserName sets the display name captured during onboarding.
func UpdateUserName(ctx context.Context, q sqlx.ExtContext, userID, name string) error {
	query := q.Rebind(`UPDATE users SET user_name = ?, updated_at = ? WHERE user_id = ?`)
	res, err := q.ExecContext(ctx, query, db.NullString(name), time.Now().UTC(), userID)
	if err != nil {
		log.Errorf("Error updating name for user '%s': %v", userID, err)
		return fmt.Errorf("update user name: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Warnf("No user found with ID '%s' for name update.", userID)
		return sql.ErrNoRows
	}
	return nil
}

// AddUserCost accumulates generation spend into the monthly counter.
func AddUserCost(ctx context.Context, q sqlx.ExtContext, userID string, cost float64) error {
	query := q.Rebind(`UPDATE users SET monthly_cost = monthly_cost + ?, updated_at = ? WHERE user_id = ?`)
	if _, err := q.ExecContext(ctx, query, cost, time.Now().UTC(), userID); err != nil {
		log.Errorf("Error adding cost for user '%s': %v", userID, err)
		return fmt.Errorf("add user cost: %w", err)
	}
	return nil
}
