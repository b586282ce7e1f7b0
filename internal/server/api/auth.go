package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"unlockd/internal/walletauth"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

const (
	ctxKeyWallet = "wallet"
	ctxKeyAdmin  = "admin"

	headerAdminToken = "X-Admin-Token"
)

var (
	errStaleLogin   = errors.New("login timestamp outside allowed window")
	errInvalidToken = errors.New("invalid token")
)

// AuthConfig configures wallet sessions and the admin token.
type AuthConfig struct {
	Secret         string
	Issuer         string
	TTL            time.Duration
	ClockSkew      time.Duration
	AdminTokenHash string
}

// Authenticator turns signed login challenges into HS256 session tokens and
// guards routes that need a wallet or the admin token.
type Authenticator struct {
	secret    []byte
	issuer    string
	ttl       time.Duration
	skew      time.Duration
	adminHash []byte
	nowFn     func() time.Time
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 5 * time.Minute
	}
	a := &Authenticator{
		secret: []byte(strings.TrimSpace(cfg.Secret)),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		skew:   cfg.ClockSkew,
		nowFn:  time.Now,
	}
	if cfg.AdminTokenHash != "" {
		a.adminHash = []byte(cfg.AdminTokenHash)
	}
	return a
}

// Login verifies a personal_sign signature over the login message and
// issues a session token for addr.
func (a *Authenticator) Login(addr common.Address, timestamp int64, signature string) (string, time.Time, error) {
	now := a.nowFn()
	signedAt := time.Unix(timestamp, 0)
	if signedAt.Before(now.Add(-a.skew)) || signedAt.After(now.Add(a.skew)) {
		return "", time.Time{}, errStaleLogin
	}
	if err := walletauth.Verify(addr, timestamp, signature); err != nil {
		return "", time.Time{}, err
	}
	return a.IssueToken(addr)
}

// IssueToken signs a session token whose subject is addr.
func (a *Authenticator) IssueToken(addr common.Address) (string, time.Time, error) {
	now := a.nowFn()
	expires := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   addr.Hex(),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken validates a session token and returns its wallet address.
func (a *Authenticator) ParseToken(tokenString string) (common.Address, error) {
	if len(a.secret) == 0 {
		return common.Address{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.skew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.nowFn),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !token.Valid || !common.IsHexAddress(claims.Subject) {
		return common.Address{}, errInvalidToken
	}
	return common.HexToAddress(claims.Subject), nil
}

// RequireWallet rejects requests without a valid bearer token.
func (a *Authenticator) RequireWallet() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := a.authenticate(c); err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}
			return next(c)
		}
	}
}

// RequireWalletOrAdmin lets a request through with either a valid admin token
// header or a valid bearer token.
func (a *Authenticator) RequireWalletOrAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token := c.Request().Header.Get(headerAdminToken); token != "" {
				if !a.isAdminToken(token) {
					slog.Warn("rejected admin token", "ip", c.RealIP())
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid admin token"})
				}
				c.Set(ctxKeyAdmin, true)
				return next(c)
			}
			if err := a.authenticate(c); err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}
			return next(c)
		}
	}
}

func (a *Authenticator) authenticate(c echo.Context) error {
	tokenString := extractBearer(c.Request().Header.Get(echo.HeaderAuthorization))
	if tokenString == "" {
		return errors.New("missing bearer token")
	}
	addr, err := a.ParseToken(tokenString)
	if err != nil {
		slog.Debug("token validation failed", "error", err)
		return errInvalidToken
	}
	c.Set(ctxKeyWallet, addr)
	return nil
}

func (a *Authenticator) isAdminToken(token string) bool {
	if len(a.adminHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.adminHash, []byte(token)) == nil
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// walletFrom returns the authenticated wallet, or the zero address for
// admin-only requests.
func walletFrom(c echo.Context) common.Address {
	addr, _ := c.Get(ctxKeyWallet).(common.Address)
	return addr
}

func isAdmin(c echo.Context) bool {
	admin, _ := c.Get(ctxKeyAdmin).(bool)
	return admin
}
