package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chatlinehq/chatline/internal/auth"
	"github.com/chatlinehq/chatline/internal/automation"
)

// AutomationHandler serves the automation rule admin API.
type AutomationHandler struct {
	rules  *automation.Service
	logger *slog.Logger
}

// NewAutomationHandler creates an AutomationHandler.
func NewAutomationHandler(log *slog.Logger, rules *automation.Service) *AutomationHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AutomationHandler{
		rules:  rules,
		logger: log.With(slog.String("handler", "automation")),
	}
}

func (h *AutomationHandler) Register(e *echo.Echo) {
	g := e.Group("/api/automation/rules")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.PUT("/:id/active", h.SetActive)
	g.GET("/:id/runs", h.ListRuns)
}

type ruleListResponse struct {
	Items []automation.Rule `json:"items"`
}

func (h *AutomationHandler) List(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	items, err := h.rules.List(c.Request().Context(), identity.TenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []automation.Rule{}
	}
	return c.JSON(http.StatusOK, ruleListResponse{Items: items})
}

func (h *AutomationHandler) Get(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	rule, err := h.rules.Get(c.Request().Context(), identity.TenantID, c.Param("id"))
	if err != nil {
		return domainError(err, automation.ErrRuleNotFound)
	}
	return c.JSON(http.StatusOK, rule)
}

func (h *AutomationHandler) Create(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	var rule automation.Rule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule.TenantID = identity.TenantID
	created, err := h.rules.Create(c.Request().Context(), rule)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *AutomationHandler) Update(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	var rule automation.Rule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule.ID = c.Param("id")
	rule.TenantID = identity.TenantID
	updated, err := h.rules.Update(c.Request().Context(), rule)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *AutomationHandler) Delete(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	if err := h.rules.Delete(c.Request().Context(), identity.TenantID, c.Param("id")); err != nil {
		return domainError(err, automation.ErrRuleNotFound)
	}
	return c.NoContent(http.StatusNoContent)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (h *AutomationHandler) SetActive(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	var req setActiveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule, err := h.rules.SetActive(c.Request().Context(), identity.TenantID, c.Param("id"), req.Active)
	if err != nil {
		return domainError(err, automation.ErrRuleNotFound)
	}
	return c.JSON(http.StatusOK, rule)
}

type runLogResponse struct {
	Items []automation.RunLog `json:"items"`
}

func (h *AutomationHandler) ListRuns(c echo.Context) error {
	identity, err := auth.AgentFromContext(c)
	if err != nil {
		return err
	}
	items, err := h.rules.RunLogs(c.Request().Context(), identity.TenantID, c.Param("id"), limitParam(c))
	if err != nil {
		return domainError(err, automation.ErrRuleNotFound)
	}
	if items == nil {
		items = []automation.RunLog{}
	}
	return c.JSON(http.StatusOK, runLogResponse{Items: items})
}
