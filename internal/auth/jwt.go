// Package auth issues and verifies the two Chatline credential kinds: agent
// tokens for staff clients and widget session tokens for contact clients.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	claimSubject   = "sub"
	claimTenantID  = "tenant_id"
	claimAgentID   = "agent_id"
	claimType      = "typ"
	claimChannelID = "channel_id"
	claimSessionID = "session_id"
	claimContactID = "contact_id"

	agentTokenType  = "agent"
	widgetTokenType = "widget_session"
)

// JWTMiddleware returns a JWT auth middleware configured for HS256 tokens.
// The query token lookup exists for websocket upgrades, which cannot set an
// Authorization header from the browser.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		TokenLookup:   "header:Authorization:Bearer ,query:token",
		Skipper:       skipper,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
	})
}

// AgentIdentity is the verified identity of a staff client.
type AgentIdentity struct {
	AgentID  string
	TenantID string
}

// GenerateAgentToken creates a signed JWT for an agent.
func GenerateAgentToken(agentID, tenantID, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(agentID) == "" {
		return "", time.Time{}, fmt.Errorf("agent id is required")
	}
	if strings.TrimSpace(tenantID) == "" {
		return "", time.Time{}, fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims := jwt.MapClaims{
		claimSubject:  agentID,
		claimType:     agentTokenType,
		claimAgentID:  agentID,
		claimTenantID: tenantID,
		"iat":         now.Unix(),
		"exp":         expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// AgentFromContext extracts the agent identity from JWT claims.
func AgentFromContext(c echo.Context) (AgentIdentity, error) {
	claims, err := claimsFromContext(c)
	if err != nil {
		return AgentIdentity{}, err
	}
	if typ := claimString(claims, claimType); typ != "" && typ != agentTokenType {
		return AgentIdentity{}, echo.NewHTTPError(http.StatusUnauthorized, "agent token required")
	}
	identity := AgentIdentity{
		AgentID:  claimString(claims, claimAgentID),
		TenantID: claimString(claims, claimTenantID),
	}
	if identity.AgentID == "" {
		identity.AgentID = claimString(claims, claimSubject)
	}
	if identity.AgentID == "" || identity.TenantID == "" {
		return AgentIdentity{}, echo.NewHTTPError(http.StatusUnauthorized, "agent identity missing")
	}
	return identity, nil
}

// WidgetSession holds the claims of a widget session token.
type WidgetSession struct {
	SessionID string
	TenantID  string
	ChannelID string
	ContactID string
}

// GenerateWidgetToken creates a signed JWT for a widget session.
func GenerateWidgetToken(info WidgetSession, secret string, expiresIn time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(info.SessionID) == "" {
		return "", time.Time{}, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(info.TenantID) == "" {
		return "", time.Time{}, fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if expiresIn <= 0 {
		return "", time.Time{}, fmt.Errorf("jwt expires in must be positive")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(expiresIn)
	claims := jwt.MapClaims{
		claimSubject:   info.SessionID,
		claimType:      widgetTokenType,
		claimSessionID: info.SessionID,
		claimTenantID:  info.TenantID,
		claimChannelID: info.ChannelID,
		claimContactID: info.ContactID,
		"iat":          now.Unix(),
		"exp":          expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseWidgetToken verifies a raw widget token string outside the middleware
// path. Used by the widget handshake when a prior token is presented and by
// the widget websocket endpoint.
func ParseWidgetToken(raw, secret string) (WidgetSession, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return WidgetSession{}, fmt.Errorf("invalid widget token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return WidgetSession{}, fmt.Errorf("invalid widget token claims")
	}
	if claimString(claims, claimType) != widgetTokenType {
		return WidgetSession{}, fmt.Errorf("not a widget token")
	}
	info := WidgetSession{
		SessionID: claimString(claims, claimSessionID),
		TenantID:  claimString(claims, claimTenantID),
		ChannelID: claimString(claims, claimChannelID),
		ContactID: claimString(claims, claimContactID),
	}
	if info.SessionID == "" {
		info.SessionID = claimString(claims, claimSubject)
	}
	if info.SessionID == "" || info.TenantID == "" {
		return WidgetSession{}, fmt.Errorf("widget session claims missing")
	}
	return info, nil
}

func claimsFromContext(c echo.Context) (jwt.MapClaims, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(raw)
	}
}
