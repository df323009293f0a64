package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// ParseUUID parses a string id into a pgtype.UUID, rejecting empty input.
func ParseUUID(id string) (pgtype.UUID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return pgtype.UUID{}, fmt.Errorf("id is required")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid uuid %q: %w", id, err)
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, nil
}

// UUIDString renders a pgtype.UUID as its canonical string, or "" when null.
func UUIDString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}

// Text wraps a string as pgtype.Text; empty string becomes null.
func Text(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	return pgtype.Text{String: s, Valid: s != ""}
}

// TextString unwraps a pgtype.Text, returning "" when null.
func TextString(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// TimeValue unwraps a pgtype.Timestamptz, returning the zero time when null.
func TimeValue(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

// TimePtr unwraps a pgtype.Timestamptz into a *time.Time, nil when null.
func TimePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
