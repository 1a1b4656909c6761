package auth

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
)

type (
	// SessionRepository persists one record per live refresh token, keyed by
	// the token's digest. Rotation deletes the superseded record, so a
	// replayed refresh token finds no session and dies. DeleteSession reports
	// whether a record was actually removed; rotation relies on it to admit
	// at most one exchange per token.
	SessionRepository interface {
		SaveSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
		GetSessionUserID(ctx context.Context, tokenHash string) (string, error)
		DeleteSession(ctx context.Context, tokenHash string) (bool, error)
		DeleteUserSessions(ctx context.Context, userID string) error
		DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
	}

	// TokenPair is what a successful login or refresh hands the client.
	TokenPair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}

	// Service authenticates submitted credentials and manages the refresh
	// chain. All per-account throttling state lives in the user repository
	// and is persisted before a response is returned, so concurrent attempts
	// observe each other's failures.
	Service struct {
		conf     *core.Config
		usrSvc   *user.Service
		tokens   *TokenManager
		sessions SessionRepository

		nowFunc func() time.Time // mockable
	}
)

// ErrSessionNotFound is the session store's miss; the authenticator folds it
// into ErrInvalidRefreshToken before it reaches any caller.
var ErrSessionNotFound = errors.New("session not found")

func NewService(conf *core.Config, usrSvc *user.Service, tokens *TokenManager, sessions SessionRepository) *Service {
	return &Service{
		conf:     conf,
		usrSvc:   usrSvc,
		tokens:   tokens,
		sessions: sessions,
		nowFunc:  time.Now,
	}
}

func (svc *Service) Tokens() *TokenManager { return svc.tokens }

// Login validates the submitted credentials and issues a token pair.
// Unknown identifiers and wrong passwords both come back as
// ErrInvalidCredentials; lockout applies regardless of password
// correctness.
func (svc *Service) Login(ctx context.Context, identifier, password string) (user.User, TokenPair, error) {
	usr, err := svc.usrSvc.GetByUsernameOrEmail(ctx, identifier)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, TokenPair{}, ErrInvalidCredentials
		}
		return user.User{}, TokenPair{}, errors.Wrap(err, "finding user by username or email")
	}

	if !usr.IsActive {
		return user.User{}, TokenPair{}, ErrAccountDeactivated
	}

	now := svc.nowFunc().UTC()
	if usr.IsLocked(now) {
		return user.User{}, TokenPair{}, ErrAccountLocked
	}

	if !usr.CheckPassword(password) {
		_, err = svc.usrSvc.Repo().RegisterFailedLogin(
			ctx, usr.ID, svc.conf.Auth.MaxFailedLoginAttempts, svc.conf.Auth.LockoutDuration)
		if err != nil {
			return user.User{}, TokenPair{}, errors.Wrap(err, "registering failed login")
		}
		return user.User{}, TokenPair{}, ErrInvalidCredentials
	}

	usr, err = svc.usrSvc.Repo().ResetLoginThrottle(ctx, usr.ID, now)
	if err != nil {
		return user.User{}, TokenPair{}, errors.Wrap(err, "resetting login throttle")
	}

	pair, err := svc.issuePair(ctx, usr)
	if err != nil {
		return user.User{}, TokenPair{}, err
	}
	return usr, pair, nil
}

// Refresh exchanges a valid refresh token for a new access+refresh pair.
// The superseded token's session is removed before the new pair is issued;
// replaying it afterwards fails with ErrInvalidRefreshToken.
func (svc *Service) Refresh(ctx context.Context, refreshToken string) (user.User, TokenPair, error) {
	claims, err := svc.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return user.User{}, TokenPair{}, ErrInvalidRefreshToken
	}

	tokenHash := HashToken(refreshToken)
	userID, err := svc.sessions.GetSessionUserID(ctx, tokenHash)
	if err != nil {
		if errors.Cause(err) == ErrSessionNotFound {
			return user.User{}, TokenPair{}, ErrInvalidRefreshToken
		}
		return user.User{}, TokenPair{}, errors.Wrap(err, "loading refresh session")
	}
	if userID != claims.Subject {
		return user.User{}, TokenPair{}, ErrInvalidRefreshToken
	}

	usr, err := svc.usrSvc.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, TokenPair{}, ErrInvalidRefreshToken
		}
		return user.User{}, TokenPair{}, errors.Wrap(err, "finding user by ID")
	}
	if !usr.IsActive {
		return user.User{}, TokenPair{}, ErrInvalidRefreshToken
	}

	// rotate: the conditional delete admits exactly one winner per token;
	// a concurrent exchange that lost the race finds nothing to retire
	deleted, err := svc.sessions.DeleteSession(ctx, tokenHash)
	if err != nil {
		return user.User{}, TokenPair{}, errors.Wrap(err, "retiring refresh session")
	}
	if !deleted {
		return user.User{}, TokenPair{}, ErrInvalidRefreshToken
	}

	pair, err := svc.issuePair(ctx, usr)
	if err != nil {
		return user.User{}, TokenPair{}, err
	}
	return usr, pair, nil
}

// Logout revokes every live refresh session of the given account. Issued
// access tokens remain valid until expiry; only the refresh chain dies.
func (svc *Service) Logout(ctx context.Context, userID string) error {
	return errors.Wrap(svc.sessions.DeleteUserSessions(ctx, userID), "revoking refresh sessions")
}

// PurgeExpiredSessions removes refresh sessions whose tokens can no longer
// verify anyway. Meant for a periodic janitor.
func (svc *Service) PurgeExpiredSessions(ctx context.Context) (int, error) {
	return svc.sessions.DeleteExpiredSessions(ctx, svc.nowFunc().UTC())
}

func (svc *Service) issuePair(ctx context.Context, usr user.User) (TokenPair, error) {
	access, err := svc.tokens.IssueAccessToken(usr)
	if err != nil {
		return TokenPair{}, errors.Wrap(err, "issuing access token")
	}
	refresh, claims, err := svc.tokens.IssueRefreshToken(usr)
	if err != nil {
		return TokenPair{}, errors.Wrap(err, "issuing refresh token")
	}
	if err = svc.sessions.SaveSession(ctx, HashToken(refresh), usr.ID, claims.ExpiresAt.Time); err != nil {
		return TokenPair{}, errors.Wrap(err, "saving refresh session")
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
