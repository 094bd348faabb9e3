package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
)

// ErrUnauthenticated indica sessão ausente ou inválida.
var ErrUnauthenticated = errors.New("unauthenticated")

// Session é a identidade verificada pelo provedor externo.
type Session struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

// Authenticator valida um token de sessão junto ao provedor de identidade.
type Authenticator interface {
	Verify(ctx context.Context, token string) (*Session, error)
}

// HTTPAuthenticator implementa Authenticator chamando o provedor de
// identidade via HTTP.
type HTTPAuthenticator struct {
	client *resty.Client
}

// NewHTTPAuthenticator cria uma nova instância de HTTPAuthenticator.
func NewHTTPAuthenticator(baseURL string) *HTTPAuthenticator {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(5 * time.Second)

	return &HTTPAuthenticator{client: client}
}

// Verify troca o token por uma sessão. Qualquer resposta não-2xx vira
// ErrUnauthenticated.
func (a *HTTPAuthenticator) Verify(ctx context.Context, token string) (*Session, error) {
	var session Session
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"token": token}).
		SetResult(&session).
		Post("/api/sessions/verify")
	if err != nil {
		return nil, fmt.Errorf("identity provider unreachable: %w", err)
	}
	if resp.IsError() {
		return nil, ErrUnauthenticated
	}
	if session.UserID == "" {
		return nil, ErrUnauthenticated
	}
	return &session, nil
}

const sessionContextKey = "session"

// sessionToken extrai o token do header Authorization ou do cookie de sessão.
func sessionToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Cookie("session"); err == nil {
		return cookie
	}
	return ""
}

// AuthRequired rejeita requisições sem sessão válida e injeta a sessão no
// contexto do gin.
func AuthRequired(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		session, err := auth.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set(sessionContextKey, session)
		c.Next()
	}
}

// AdminRequired exige uma sessão de administrador. Must run after AuthRequired.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessionFrom(c)
		if session == nil || !session.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

func sessionFrom(c *gin.Context) *Session {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return nil
	}
	session, ok := value.(*Session)
	if !ok {
		return nil
	}
	return session
}
