package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chatlinehq/chatline/internal/agent"
	"github.com/chatlinehq/chatline/internal/auth"
)

// AuthHandler issues agent tokens.
type AuthHandler struct {
	agents    *agent.Service
	jwtSecret string
	expiresIn time.Duration
	logger    *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(log *slog.Logger, agents *agent.Service, jwtSecret string, expiresIn time.Duration) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{
		agents:    agents,
		jwtSecret: jwtSecret,
		expiresIn: expiresIn,
		logger:    log.With(slog.String("handler", "auth")),
	}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Agent     agent.Agent `json:"agent"`
}

// Login verifies agent credentials and returns a signed token. Invalid
// credentials get the same response regardless of which part failed.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.agents.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, agent.ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		h.logger.Error("login failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}
	token, expiresAt, err := auth.GenerateAgentToken(a.ID, a.TenantID, h.jwtSecret, h.expiresIn)
	if err != nil {
		h.logger.Error("token generation failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}
	return c.JSON(http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Agent:     a,
	})
}
