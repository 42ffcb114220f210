package bsky

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	comatproto "github.com/pef-moderation/firehose-automod/api/atproto"
	"github.com/pef-moderation/firehose-automod/xrpc"
)

// AccessExpiryBuffer is how far ahead of access token expiry a refresh is
// forced. Keeps long-running moderation calls from racing token death.
const AccessExpiryBuffer = 2 * time.Minute

// Credentials are the app-password login for the moderation account.
type Credentials struct {
	Identifier string
	Password   string
}

// SessionManager owns the authentication lifecycle for a shared XRPC
// transport. It creates the initial session, tracks both token expiries, and
// rotates tokens before they lapse. All mutation of the transport's auth state
// funnels through here; callers invoke CheckRefresh before authenticated work.
type SessionManager struct {
	transport *xrpc.Client
	creds     Credentials
	logger    *slog.Logger

	lk            sync.Mutex
	did           string
	handle        string
	accessExpiry  time.Time
	refreshExpiry time.Time
}

func NewSessionManager(transport *xrpc.Client, creds Credentials, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		transport: transport,
		creds:     creds,
		logger:    logger.With("subsystem", "session"),
	}
}

// DID returns the account DID once connected, empty before.
func (s *SessionManager) DID() string {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.did
}

// Connect establishes a fresh session with the stored credentials and installs
// the resulting token pair on the transport.
func (s *SessionManager) Connect(ctx context.Context) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.connectLocked(ctx)
}

func (s *SessionManager) connectLocked(ctx context.Context) error {
	sess, err := comatproto.ServerCreateSession(ctx, s.transport, &comatproto.ServerCreateSession_Input{
		Identifier: s.creds.Identifier,
		Password:   s.creds.Password,
	})
	if err != nil {
		return fmt.Errorf("createSession for %s: %w", s.creds.Identifier, err)
	}
	if err := s.installLocked(sess.AccessJwt, sess.RefreshJwt, sess.Handle, sess.Did); err != nil {
		return err
	}
	s.logger.Info("session established",
		"did", s.did,
		"handle", s.handle,
		"accessExpiry", s.accessExpiry,
		"refreshExpiry", s.refreshExpiry)
	return nil
}

// CheckRefresh ensures the access token is valid for at least
// AccessExpiryBuffer more. No-op while the token is comfortably live. When the
// refresh token itself is dead, or the server rejects it as invalid, falls
// back to a full reconnect with the stored credentials.
func (s *SessionManager) CheckRefresh(ctx context.Context) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if s.accessExpiry.IsZero() {
		return fmt.Errorf("session not established")
	}

	now := time.Now()
	if now.Add(AccessExpiryBuffer).Before(s.accessExpiry) {
		return nil
	}
	if !now.Before(s.refreshExpiry) {
		s.logger.Warn("refresh token expired, reconnecting", "did", s.did)
		return s.connectLocked(ctx)
	}

	auth := s.transport.AuthSnapshot()
	if auth == nil {
		return s.connectLocked(ctx)
	}

	// refreshSession wants the refresh token in the bearer position
	refreshClient := s.transport.WithAuth(&xrpc.AuthInfo{
		AccessJwt:  auth.RefreshJwt,
		RefreshJwt: auth.RefreshJwt,
		Handle:     auth.Handle,
		Did:        auth.Did,
	})

	sess, err := comatproto.ServerRefreshSession(ctx, refreshClient)
	if err != nil {
		var xerr *xrpc.Error
		if errors.As(err, &xerr) && xerr.IsInvalidToken() {
			s.logger.Warn("refresh token rejected, reconnecting", "did", s.did, "err", err)
			return s.connectLocked(ctx)
		}
		return fmt.Errorf("refreshSession: %w", err)
	}

	if err := s.installLocked(sess.AccessJwt, sess.RefreshJwt, sess.Handle, sess.Did); err != nil {
		return err
	}
	s.logger.Info("session refreshed",
		"did", s.did,
		"accessExpiry", s.accessExpiry,
		"refreshExpiry", s.refreshExpiry)
	return nil
}

func (s *SessionManager) installLocked(accessJwt, refreshJwt, handle, did string) error {
	accessExp, err := tokenExpiry(accessJwt)
	if err != nil {
		return fmt.Errorf("parsing access token: %w", err)
	}
	refreshExp, err := tokenExpiry(refreshJwt)
	if err != nil {
		return fmt.Errorf("parsing refresh token: %w", err)
	}

	s.transport.SetAuth(&xrpc.AuthInfo{
		AccessJwt:  accessJwt,
		RefreshJwt: refreshJwt,
		Handle:     handle,
		Did:        did,
	})
	s.did = did
	s.handle = handle
	s.accessExpiry = accessExp
	s.refreshExpiry = refreshExp
	return nil
}

// tokenExpiry pulls the exp claim out of a JWT without verifying the
// signature. The server is the authority on validity; we only need the
// timestamp for scheduling.
func tokenExpiry(tokenString string) (time.Time, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, err
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiry claim")
	}
	return exp.Time, nil
}
