// Package auth implements the UI session boundary: optional password
// protection with HMAC-signed session tokens delivered as a cookie. The
// terminal input socket performs no credential handling of its own, it
// rides on the same cookie at upgrade time.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionCookie is the cookie carrying the signed session token.
const SessionCookie = "oc_session"

const defaultSessionTTL = 24 * time.Hour

// InitPassword returns the configured password: the environment variable
// when set, the given config value otherwise. Empty means password
// protection is disabled.
func InitPassword(configured string) string {
	if env := os.Getenv("OPENCHAMBER_PASSWORD"); env != "" {
		return env
	}
	return configured
}

// Service validates passwords and issues/verifies session tokens. The
// signing key is generated per process: restarting the server invalidates
// outstanding sessions, which is acceptable for a local-first tool.
type Service struct {
	password   string
	signingKey []byte
	ttl        time.Duration
}

func NewService(password string, ttl time.Duration) (*Service, error) {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &Service{password: password, signingKey: key, ttl: ttl}, nil
}

// Enabled reports whether password protection is configured.
func (s *Service) Enabled() bool { return s.password != "" }

func (s *Service) CheckPassword(password string) bool {
	if !s.Enabled() || password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
}

// IssueSession creates a signed session token.
func (s *Service) IssueSession() (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"iss": "openchamber-relay",
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": expires.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expires, nil
}

func (s *Service) parseSession(tokenString string) (*jwt.Token, bool) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}
	return token, true
}

// ValidateSession verifies a session token's signature and expiry.
func (s *Service) ValidateSession(tokenString string) bool {
	_, ok := s.parseSession(tokenString)
	return ok
}

// Authenticated reports whether the request carries a valid session,
// either as the session cookie or as a bearer token.
func (s *Service) Authenticated(r *http.Request) bool {
	token := requestToken(r)
	return token != "" && s.ValidateSession(token)
}

// SessionExpiry returns when the request's session token expires. Used
// by long-lived connections that outlast the upgrade-time check.
func (s *Service) SessionExpiry(r *http.Request) (time.Time, bool) {
	tokenString := requestToken(r)
	if tokenString == "" {
		return time.Time{}, false
	}
	token, ok := s.parseSession(tokenString)
	if !ok {
		return time.Time{}, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// requestToken extracts the session token from the cookie or the
// Authorization header, cookie first.
func requestToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// SessionCookieFor builds the cookie carrying a freshly issued token.
func SessionCookieFor(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
