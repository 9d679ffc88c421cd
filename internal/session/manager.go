package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "lumina-session"
	defaultAudience = "lumina-api"
)

var defaultLeeway = 30 * time.Second

var (
	ErrInvalidToken = errors.New("session: invalid token")
	ErrRevoked      = errors.New("session: token revoked")
)

// Options configures claim validation behavior.
type Options struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Manager issues and validates HS256 session tokens. Users sign in
// anonymously, so a session is created by minting a fresh user ID rather
// than by checking credentials. Custom tokens minted out of band with the
// same secret can be exchanged for a session too.
type Manager struct {
	secret  []byte
	ttl     time.Duration
	revoker TokenRevoker

	issuer   string
	audience string
	leeway   time.Duration
}

// NewManager builds a session manager. revoker may be nil, in which case
// logout is a no-op on the server side.
func NewManager(secret string, ttl time.Duration, revoker TokenRevoker, opts Options) (*Manager, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("session secret required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	opts = normalizeOptions(opts)
	return &Manager{
		secret:   []byte(secret),
		ttl:      ttl,
		revoker:  revoker,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
	}, nil
}

// Anonymous mints a new user identity and a session token for it.
func (m *Manager) Anonymous() (userID, token string, err error) {
	userID = uuid.NewString()
	token, err = m.issue(userID)
	return userID, token, err
}

// ExchangeCustomToken verifies an externally minted token signed with the
// same secret and issues a regular session for its subject.
func (m *Manager) ExchangeCustomToken(custom string) (userID, token string, err error) {
	claims, err := m.parseAndVerify(custom)
	if err != nil {
		return "", "", err
	}
	token, err = m.issue(claims.Subject)
	return claims.Subject, token, err
}

// Verify validates a session token and returns the user ID.
func (m *Manager) Verify(token string) (string, error) {
	claims, err := m.parseAndVerify(token)
	if err != nil {
		return "", err
	}
	if m.revoker != nil {
		revoked, err := m.revoker.IsRevoked(claims.ID)
		if err != nil {
			return "", err
		}
		if revoked {
			return "", ErrRevoked
		}
	}
	return claims.Subject, nil
}

// Logout revokes the token until its natural expiry.
func (m *Manager) Logout(token string) error {
	if m.revoker == nil {
		return nil
	}
	claims, err := m.parseAndVerify(token)
	if err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	return m.revoker.Revoke(claims.ID, time.Until(claims.ExpiresAt.Time))
}

func (m *Manager) issue(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    m.issuer,
		Audience:  jwt.ClaimStrings{m.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *Manager) parseAndVerify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidToken
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.leeway),
	}
	if m.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(m.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(_ *jwt.Token) (any, error) {
		return m.secret, nil
	}, parserOptions...)
	if err != nil || !parsed.Valid {
		return claims, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return claims, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	if strings.TrimSpace(claims.ID) == "" {
		return claims, fmt.Errorf("%w: jti missing", ErrInvalidToken)
	}
	return claims, nil
}

func normalizeOptions(opts Options) Options {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultLeeway
	}
	return opts
}

// MintCustomToken signs a token for userID with the manager's secret. Used
// by provisioning tools that hand identities to clients out of band.
func (m *Manager) MintCustomToken(userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    m.issuer,
		Audience:  jwt.ClaimStrings{m.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}
