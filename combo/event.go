// Package combo holds the aggregation store of the overlay: the typed combo
// events, the per-channel snapshot (counters, persistent entities and
// timestamped records) and the pure state transitions over it.
//
// A Snapshot is never mutated in place. Every operation returns a new value
// that shares no maps or slices with its input, so a reader holding an older
// snapshot never observes a partial update.
package combo

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Category is one of the two redeemable combo effects.
type Category string

const (
	// CategoryPrimary spawns a per-user entity (horselul).
	CategoryPrimary Category = "primary"
	// CategorySecondary appends a timestamped record (heart).
	CategorySecondary Category = "secondary"
)

// ParseCategory maps wire names and the original gift names onto a Category.
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "horselul":
		return CategoryPrimary, true
	case "secondary", "heart", "hearts":
		return CategorySecondary, true
	}
	return "", false
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool { return c == CategoryPrimary || c == CategorySecondary }

// DefaultColor is used for entities created without a chat colour.
const DefaultColor Color = "#9147ff"

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Color is a "#RRGGBB" chat colour. The zero value means "no colour" and
// encodes as JSON null.
type Color string

// ParseColor returns the colour or the zero value when s is not "#RRGGBB".
func ParseColor(s string) Color {
	s = strings.TrimSpace(s)
	if !colorPattern.MatchString(s) {
		return ""
	}
	return Color(strings.ToLower(s))
}

// Or returns c, or fallback when c is unset.
func (c Color) Or(fallback Color) Color {
	if c == "" {
		return fallback
	}
	return c
}

func (c Color) rgb() (r, g, b float64, ok bool) {
	if !colorPattern.MatchString(string(c)) {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(string(c[1:]), 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return float64(v>>16&0xff) / 255, float64(v>>8&0xff) / 255, float64(v&0xff) / 255, true
}

// Hue returns the colour's hue in degrees (0-360), used by renderers to tint
// the emote. Grey and unset colours have hue 0.
func (c Color) Hue() float64 {
	r, g, b, ok := c.rgb()
	if !ok {
		return 0
	}
	mx := max(r, g, b)
	mn := min(r, g, b)
	if mx == mn {
		return 0
	}
	d := mx - mn
	switch mx {
	case r:
		h := (g - b) / d
		if g < b {
			h += 6
		}
		return h * 60
	case g:
		return ((b-r)/d + 2) * 60
	default:
		return ((r-g)/d + 4) * 60
	}
}

// ContrastText returns black or white, whichever reads better on c.
func (c Color) ContrastText() Color {
	r, g, b, ok := c.rgb()
	if !ok {
		return "#ffffff"
	}
	if 0.299*r+0.587*g+0.114*b > 0.5 {
		return "#000000"
	}
	return "#ffffff"
}

// MarshalJSON encodes the zero colour as null.
func (c Color) MarshalJSON() ([]byte, error) {
	if c == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

// UnmarshalJSON accepts null, "" or "#RRGGBB"; anything else decodes as unset.
func (c *Color) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*c = ParseColor(s)
	return nil
}

// Event is one normalized combo trigger. Timestamp is epoch milliseconds.
// ID is assigned from the process-wide Sequence when the event is ingested.
type Event struct {
	ID        uint64   `json:"id,omitempty"`
	Type      Category `json:"type"`
	Username  string   `json:"username"`
	Color     Color    `json:"color"`
	Bits      int      `json:"bits"`
	Timestamp int64    `json:"timestamp"`
}

// Normalize lowercases the username and trims whitespace.
func (e Event) Normalize() Event {
	e.Username = strings.ToLower(strings.TrimSpace(e.Username))
	if e.Username == "" {
		e.Username = "anonymous"
	}
	return e
}
