package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatlinehq/chatline/internal/db"
)

var ErrChannelNotFound = errors.New("channel not found")

// Store reads tenants and channels and records channel operational status.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a tenant store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, logger: log.With(slog.String("store", "tenant"))}
}

// GetChannel returns one channel scoped to a tenant.
func (s *Store) GetChannel(ctx context.Context, tenantID, channelID string) (Channel, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return Channel{}, err
	}
	cid, err := db.ParseUUID(channelID)
	if err != nil {
		return Channel{}, err
	}
	return s.scanChannel(s.pool.QueryRow(ctx, channelSelect+` WHERE id = $1 AND tenant_id = $2`, cid, tid))
}

// GetChannelByID returns one channel without tenant scoping. Used by webhook
// endpoints, which authenticate via the channel id in the URL plus the
// platform secret rather than a tenant credential.
func (s *Store) GetChannelByID(ctx context.Context, channelID string) (Channel, error) {
	cid, err := db.ParseUUID(channelID)
	if err != nil {
		return Channel{}, err
	}
	return s.scanChannel(s.pool.QueryRow(ctx, channelSelect+` WHERE id = $1`, cid))
}

// GetChannelByWidgetKey resolves a widget key to its channel.
func (s *Store) GetChannelByWidgetKey(ctx context.Context, widgetKey string) (Channel, error) {
	if widgetKey == "" {
		return Channel{}, ErrChannelNotFound
	}
	return s.scanChannel(s.pool.QueryRow(ctx, channelSelect+` WHERE widget_key = $1`, widgetKey))
}

// ListChannelsByType returns every channel of one type across tenants. The
// channel manager uses it to bring session connections up at boot.
func (s *Store) ListChannelsByType(ctx context.Context, channelType string) ([]Channel, error) {
	rows, err := s.pool.Query(ctx, channelSelect+` WHERE type = $1`, channelType)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	var channels []Channel
	for rows.Next() {
		ch, err := s.scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// ListChannels returns all channels configured for a tenant.
func (s *Store) ListChannels(ctx context.Context, tenantID string) ([]Channel, error) {
	tid, err := db.ParseUUID(tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, channelSelect+` WHERE tenant_id = $1 ORDER BY created_at`, tid)
	if err != nil {
		return nil, fmt.Errorf("list tenant channels: %w", err)
	}
	defer rows.Close()
	var channels []Channel
	for rows.Next() {
		ch, err := s.scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// UpdateChannelStatus records the operational status shown to the tenant.
func (s *Store) UpdateChannelStatus(ctx context.Context, channelID, status, detail string) error {
	cid, err := db.ParseUUID(channelID)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE channels SET status = $2, status_detail = $3, updated_at = now() WHERE id = $1`,
		cid, status, detail)
	if err != nil {
		return fmt.Errorf("update channel status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelNotFound
	}
	s.logger.Info("channel status updated",
		slog.String("channel_id", channelID),
		slog.String("status", status))
	return nil
}

const channelSelect = `SELECT id, tenant_id, type, widget_key, status, status_detail, credentials, created_at, updated_at FROM channels`

func (s *Store) scanChannel(row pgx.Row) (Channel, error) {
	var (
		ch                   Channel
		pgID, pgTenant       pgtype.UUID
		widgetKey            pgtype.Text
		credentials          []byte
		createdAt, updatedAt pgtype.Timestamptz
	)
	err := row.Scan(&pgID, &pgTenant, &ch.Type, &widgetKey, &ch.Status, &ch.StatusDetail, &credentials, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Channel{}, ErrChannelNotFound
		}
		return Channel{}, fmt.Errorf("scan channel: %w", err)
	}
	ch.ID = db.UUIDString(pgID)
	ch.TenantID = db.UUIDString(pgTenant)
	ch.WidgetKey = db.TextString(widgetKey)
	ch.CreatedAt = db.TimeValue(createdAt)
	ch.UpdatedAt = db.TimeValue(updatedAt)
	if len(credentials) > 0 {
		if err := json.Unmarshal(credentials, &ch.Credentials); err != nil {
			s.logger.Warn("bad channel credentials payload", slog.String("channel_id", ch.ID), slog.Any("error", err))
			ch.Credentials = map[string]any{}
		}
	}
	return ch, nil
}
