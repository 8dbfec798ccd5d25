package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/crewflow/internal/model"
)

// timeLayout is fixed width so TEXT comparison orders by time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return parseTime(s.String)
}

// marshalJSON encodes v as JSON TEXT without HTML escaping.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// marshalNullJSON stores nil values as SQL NULL.
func marshalNullJSON(v any) (sql.NullString, error) {
	if isNil(v) {
		return sql.NullString{}, nil
	}
	data, err := marshalJSON(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: data, Valid: true}, nil
}

func isNil(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case model.Record:
		return val == nil
	case map[string]any:
		return val == nil
	case *model.ConditionGroup:
		return val == nil
	}
	return false
}

func unmarshalRecord(s sql.NullString) (model.Record, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var r model.Record
	if err := json.Unmarshal([]byte(s.String), &r); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return r, nil
}

func unmarshalDetail(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshal detail: %w", err)
	}
	return m, nil
}

func unmarshalConditions(s sql.NullString) (*model.ConditionGroup, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var g model.ConditionGroup
	if err := json.Unmarshal([]byte(s.String), &g); err != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", err)
	}
	return &g, nil
}

func unmarshalStrings(s string, out *[]string) error {
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("unmarshal strings: %w", err)
	}
	if *out == nil {
		*out = []string{}
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
