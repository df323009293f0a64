package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chatlinehq/chatline/internal/tenant"
)

// ChannelLookup loads channel rows for the webhook, widget, and channel
// admin endpoints. Satisfied by tenant.Store.
type ChannelLookup interface {
	GetChannel(ctx context.Context, tenantID, channelID string) (tenant.Channel, error)
	GetChannelByID(ctx context.Context, channelID string) (tenant.Channel, error)
	GetChannelByWidgetKey(ctx context.Context, widgetKey string) (tenant.Channel, error)
	ListChannels(ctx context.Context, tenantID string) ([]tenant.Channel, error)
}

// domainError maps a service error to an HTTP error. Errors listed in
// notFound become 404, everything else 500.
func domainError(err error, notFound ...error) error {
	for _, nf := range notFound {
		if errors.Is(err, nf) {
			return echo.NewHTTPError(http.StatusNotFound, nf.Error())
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// beforeParam parses an optional RFC3339 "before" cursor query parameter.
func beforeParam(c echo.Context) (*time.Time, error) {
	raw := strings.TrimSpace(c.QueryParam("before"))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "before must be RFC3339")
	}
	return &t, nil
}

// limitParam parses an optional positive "limit" query parameter.
func limitParam(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
