package overlay

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/onnwee/combo-overlay/backend/combo"
	"github.com/onnwee/combo-overlay/backend/physics"
	"github.com/onnwee/combo-overlay/backend/placement"
)

// DefaultSize is the size level used when none is configured.
const DefaultSize = 3

var sizeMultipliers = map[int]float64{1: 0.5, 2: 0.75, 3: 1, 4: 1.5, 5: 2}

// SizeMultiplier maps a size level (1-5) to its scale factor. Unknown levels scale 1x.
func SizeMultiplier(level int) float64 {
	if m, ok := sizeMultipliers[level]; ok {
		return m
	}
	return 1
}

// Settings configure one channel engine.
type Settings struct {
	Size   int              `json:"size"`
	Corner placement.Corner `json:"corner"`
	// Persistent keeps one entity per user for primary events; otherwise
	// every primary event drops an ephemeral body.
	Persistent bool `json:"persistent"`
	// HeartFall spawns a falling drop for every secondary event.
	HeartFall  bool          `json:"heartFall"`
	Dev        bool          `json:"dev"`
	ShowTotals bool          `json:"showTotals"`
	ShowUsers  bool          `json:"showUsers"`
	Field      physics.Field `json:"field"`
}

// DefaultSettings returns the settings of an unconfigured overlay.
func DefaultSettings() Settings {
	return Settings{
		Size:       DefaultSize,
		Corner:     placement.BottomLeft,
		Persistent: true,
		HeartFall:  true,
		Field:      physics.DefaultField,
	}
}

// SizeMultiplier returns the scale factor of the configured size level.
func (s Settings) SizeMultiplier() float64 { return SizeMultiplier(s.Size) }

// Mode returns the routing mode the combo store needs.
func (s Settings) Mode() combo.Mode {
	return combo.Mode{Persistent: s.Persistent, Corner: s.Corner}
}

func (s Settings) normalized() Settings {
	if _, ok := sizeMultipliers[s.Size]; !ok {
		s.Size = DefaultSize
	}
	if s.Corner == "" {
		s.Corner = placement.BottomLeft
	}
	if s.Field.Width <= 0 || s.Field.Height <= 0 {
		s.Field = physics.DefaultField
	}
	return s
}

// ParseSettings overrides defaults with overlay query parameters:
// size (1-5), corner (bl|br|tl|tr), horses or persistent, hearts, dev,
// showTotals and showUsers. Unparseable values keep the default.
func ParseSettings(q url.Values, defaults Settings) Settings {
	s := defaults
	if v := q.Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Size = n
		}
	}
	if v := q.Get("corner"); v != "" {
		s.Corner = placement.ParseCorner(v)
	}
	boolParam(q, "persistent", &s.Persistent)
	boolParam(q, "horses", &s.Persistent)
	boolParam(q, "hearts", &s.HeartFall)
	boolParam(q, "dev", &s.Dev)
	boolParam(q, "showTotals", &s.ShowTotals)
	boolParam(q, "showUsers", &s.ShowUsers)
	return s.normalized()
}

func boolParam(q url.Values, name string, dst *bool) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}
