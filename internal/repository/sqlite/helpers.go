package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lanwatch/internal/domain"
	"lanwatch/internal/repository"
)

// Timestamps are stored as RFC 3339 text so the rows stay readable with
// the sqlite3 shell and sort correctly as strings. The fractional part
// is fixed width; RFC3339Nano trims trailing zeros, which would break
// lexicographic comparison in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func unmarshalInts(s string) []int {
	var out []int
	if s != "" {
		_ = json.Unmarshal([]byte(s), &out)
	}
	return out
}

func unmarshalPortFindings(s string) []domain.PortFinding {
	var out []domain.PortFinding
	if s != "" {
		_ = json.Unmarshal([]byte(s), &out)
	}
	return out
}

func unmarshalStringMap(s string) map[string]string {
	out := map[string]string{}
	if s != "" {
		_ = json.Unmarshal([]byte(s), &out)
	}
	return out
}

func wrapNotFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		err = repository.ErrNotFound
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
