package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AnTengye/sigscan/config"
	"github.com/AnTengye/sigscan/pkg/logger"
	"github.com/AnTengye/sigscan/service"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// maxTokenLifetime caps a session token regardless of session activity.
const maxTokenLifetime = 24 * time.Hour

const sessionKey = "session"

// SessionClaims binds a token to one session.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionLookup resolves live sessions.
type SessionLookup interface {
	Get(id string) (*service.Session, error)
	Touch(id string) error
}

// GenerateSessionToken signs a token for sessionID.
func GenerateSessionToken(sessionID string, cfg *config.SessionConfig) (string, time.Time, error) {
	if cfg.JWTSecret == "" {
		return "", time.Time{}, errors.New("session secret not configured")
	}

	now := time.Now()
	expiresAt := now.Add(maxTokenLifetime)

	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// SessionAuth validates the session token and loads its session. The token
// comes from the Authorization header, or the token query parameter for
// clients that cannot set headers (EventSource).
func SessionAuth(cfg *config.SessionConfig, sessions SessionLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearerToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims := &SessionClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.SessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		sess, err := sessions.Get(claims.SessionID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
			return
		}
		if err := sessions.Touch(sess.ID); err != nil && !errors.Is(err, service.ErrSessionNotFound) {
			logger.Warn(c.Request.Context(), "failed to renew session", "error", err)
		}

		c.Set(sessionKey, sess)
		c.Request = c.Request.WithContext(logger.WithSession(c.Request.Context(), sess.ID))

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", errors.New("Authorization header required")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.New("Invalid authorization header format")
	}
	return parts[1], nil
}

// GetSession returns the session loaded by SessionAuth.
func GetSession(c *gin.Context) *service.Session {
	if v, exists := c.Get(sessionKey); exists {
		if sess, ok := v.(*service.Session); ok {
			return sess
		}
	}
	return nil
}
