package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/db"
	"github.com/narcissus123/continuity/pkg/db/queries"
	"github.com/narcissus123/continuity/pkg/localctx"
	"github.com/narcissus123/continuity/pkg/session"
	"github.com/narcissus123/continuity/pkg/validation"
	log "github.com/sirupsen/logrus"
)

// Next actions the conversation layer should take after an auth call.
const (
	ActionAwaitToken = "await_token"
	ActionVerify     = "verify"
	ActionRegister   = "register"
	ActionDone       = "done"
)

// Restore statuses.
const (
	StatusExistingUser = "existing_user"
	StatusNewUser      = "new_user"
)

// AuthResult is the outcome of an auth step.
type AuthResult struct {
	Status      string `json:"status,omitempty"`
	Action      string `json:"action,omitempty"`
	Message     string `json:"message"`
	UserID      string `json:"user_id,omitempty"`
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// AuthService implements magic-link registration: name, then email, then
// the emailed token.
type AuthService struct {
	store    *db.Store
	tokens   *TokenService
	mailer   Mailer
	jwt      *JWTService
	pointers *localctx.Pointers
}

func NewAuthService(store *db.Store, tokens *TokenService, mailer Mailer, jwt *JWTService, pointers *localctx.Pointers) *AuthService {
	return &AuthService{store: store, tokens: tokens, mailer: mailer, jwt: jwt, pointers: pointers}
}

// SavePendingName keeps the name until the email is verified.
func (s *AuthService) SavePendingName(state *session.State, name string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.ReasonInvalidFormat, "Please tell me your name.")
	}
	state.SetPendingName(name)
	return &AuthResult{Action: ActionRegister, Name: name, Message: fmt.Sprintf("Nice to meet you, %s! What's your email?", name)}, nil
}

// RequestVerification issues a token for a new email and mails it.
func (s *AuthService) RequestVerification(ctx context.Context, email string) (*AuthResult, error) {
	email = validation.NormalizeEmail(email)
	if !validation.IsValidEmail(email) {
		return nil, apperr.New(apperr.ReasonInvalidFormat, "Invalid email format. Please provide a valid email address.")
	}

	existing, err := queries.FindUserByEmail(ctx, s.store.DB, email)
	if err != nil {
		return nil, apperr.Internal("Could not check the email.", err)
	}
	if existing != nil {
		return nil, apperr.New(apperr.ReasonAlreadyRegistered,
			"This email is already registered. Please verify your token to continue.")
	}

	if err := s.issueAndSend(ctx, email); err != nil {
		return nil, err
	}
	return &AuthResult{
		Action:  ActionAwaitToken,
		Email:   email,
		Message: fmt.Sprintf("Verification email sent to %s. Please check your inbox and provide the token.", email),
	}, nil
}

func (s *AuthService) issueAndSend(ctx context.Context, email string) error {
	token, err := s.tokens.Issue(ctx, email)
	if err != nil {
		return err
	}
	mail := VerificationMail{To: email, Token: token.Token, ExpiresIn: token.ExpiresAt.Sub(token.CreatedAt)}
	if err := s.mailer.SendVerification(ctx, mail); err != nil {
		log.Errorf("Verification mail to %s failed: %v", email, err)
		return apperr.Wrap(apperr.ReasonSendFailed,
			"Failed to send email. Please check your connection and try again.", err)
	}
	return nil
}

// VerifyToken redeems token, loads or creates the user, and binds the
// identity to state. The pending name, if any, is consumed; it also names a
// returning user who never gave one.
func (s *AuthService) VerifyToken(ctx context.Context, state *session.State, token string) (*AuthResult, error) {
	email, err := s.tokens.Redeem(ctx, token)
	if err != nil {
		return nil, err
	}

	pendingName := state.Scratch.PendingUserName
	var user *db.User
	err = s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		found, err := queries.FindUserByEmail(ctx, tx, email)
		if err != nil {
			return err
		}
		if found != nil {
			user = found
			if pendingName != "" && !found.UserName.Valid {
				if err := queries.UpdateUserName(ctx, tx, found.UserID, pendingName); err != nil {
					return err
				}
				user.UserName = db.NullString(pendingName)
			}
			return nil
		}
		user, err = queries.CreateUser(ctx, tx, &db.User{Email: email, UserName: db.NullString(pendingName)})
		return err
	})
	if err != nil {
		return nil, apperr.Internal("Could not create your account.", err)
	}

	state.TakePendingName()
	state.SetIdentity(user.UserID, user.Email, user.UserName.String, user.MonthlyCost)
	if err := s.pointers.SaveUser(user.UserID); err != nil {
		log.Warnf("Could not record current user pointer: %v", err)
	}

	access, err := s.jwt.GenerateToken(user.UserID, user.Email, state.Identity.Name)
	if err != nil {
		return nil, apperr.Internal("Could not sign you in.", err)
	}

	return &AuthResult{
		Action:      ActionDone,
		UserID:      user.UserID,
		Email:       user.Email,
		Name:        state.Identity.Name,
		AccessToken: access,
		Message:     fmt.Sprintf("Email verified! Welcome to Continuity, %s", state.Identity.Name),
	}, nil
}

// RestoreUser recognises a returning user by email and restores their
// identity into state. Access still requires a token, so a fresh one is
// mailed.
func (s *AuthService) RestoreUser(ctx context.Context, state *session.State, email string) (*AuthResult, error) {
	email = validation.NormalizeEmail(email)
	if !validation.IsValidEmail(email) {
		return nil, apperr.New(apperr.ReasonInvalidFormat, "Invalid email format. Please provide a valid email address.")
	}

	user, err := queries.FindUserByEmail(ctx, s.store.DB, email)
	if err != nil {
		return nil, apperr.Internal("Could not look up the email.", err)
	}
	if user == nil {
		return &AuthResult{
			Status:  StatusNewUser,
			Action:  ActionRegister,
			Email:   email,
			Message: "This email is not registered yet. Let's create your account.",
		}, nil
	}

	state.SetIdentity(user.UserID, user.Email, user.UserName.String, user.MonthlyCost)
	if err := s.issueAndSend(ctx, email); err != nil {
		return nil, err
	}

	return &AuthResult{
		Status:  StatusExistingUser,
		Action:  ActionVerify,
		UserID:  user.UserID,
		Email:   user.Email,
		Name:    state.Identity.Name,
		Message: fmt.Sprintf("Welcome back, %s! We sent a sign-in token to %s.", state.Identity.Name, user.Email),
	}, nil
}
