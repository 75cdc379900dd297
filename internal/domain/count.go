package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Count is a nullable counter (reviews, favorites, follows).
//
// Older databases stored counters as text taken verbatim from the summary
// string ("1,234"), so Scan accepts both integers and such strings.
type Count struct {
	N     int64
	Valid bool
}

// NewCount returns a valid Count.
func NewCount(n int64) Count {
	return Count{N: n, Valid: true}
}

// ParseCount parses a counter such as "1,234" or " 87 ".
func ParseCount(s string) (Count, bool) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
	if s == "" {
		return Count{}, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Count{}, false
	}
	return NewCount(n), true
}

func (c *Count) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c = Count{}
	case int64:
		*c = NewCount(v)
	case float64:
		*c = NewCount(int64(v))
	case []byte:
		return c.scanString(string(v))
	case string:
		return c.scanString(v)
	default:
		return fmt.Errorf("count: unsupported type %T", src)
	}
	return nil
}

func (c *Count) scanString(s string) error {
	if strings.TrimSpace(s) == "" {
		*c = Count{}
		return nil
	}
	parsed, ok := ParseCount(s)
	if !ok {
		return fmt.Errorf("count: cannot parse %q", s)
	}
	*c = parsed
	return nil
}

func (c Count) Value() (driver.Value, error) {
	if !c.Valid {
		return nil, nil
	}
	return c.N, nil
}

func (c Count) MarshalJSON() ([]byte, error) {
	if !c.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, c.N, 10), nil
}

func (c *Count) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Count{}
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*c = NewCount(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("count: %w", err)
	}
	return c.scanString(s)
}
