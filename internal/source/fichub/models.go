package fichub

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// APIResponse represents the FicHub API response structure.
type APIResponse struct {
	Meta   *APIMeta          `json:"meta"`
	Err    int               `json:"err"`
	Info   string            `json:"info"`
	URLs   map[string]string `json:"urls"`
	Hashes map[string]string `json:"hashes"`
}

// APIMeta is the "meta" object. Pointer fields distinguish absent keys from
// zero values.
type APIMeta struct {
	ID              *FlexString    `json:"id"`
	Title           *string        `json:"title"`
	Author          *string        `json:"author"`
	AuthorLocalID   *FlexString    `json:"authorLocalId"`
	AuthorURL       *string        `json:"authorUrl"`
	Chapters        *int64         `json:"chapters"`
	Created         *string        `json:"created"`
	Description     *string        `json:"description"`
	ExtraMeta       *string        `json:"extraMeta"`
	RawExtendedMeta map[string]any `json:"rawExtendedMeta"`
	Status          *string        `json:"status"`
	Updated         *string        `json:"updated"`
	Words           *int64         `json:"words"`
	Source          *string        `json:"source"`
}

// FlexString decodes from either a JSON string or a JSON number.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

func (f *FlexString) ptr() *string {
	if f == nil {
		return nil
	}
	s := string(*f)
	return &s
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
