package combo

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
)

// StorageKey returns the persistence key for a channel.
func StorageKey(channel string) string {
	return "combo-overlay-v3-" + strings.ToLower(channel)
}

// Encode serializes the snapshot in the persisted schema.
func Encode(s Snapshot) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// persistedState is the top level of a stored snapshot. Each field is kept
// raw so that one malformed sub-object does not poison the others. The
// hearts/horselul/userHorses keys are the older layout.
type persistedState struct {
	Records   json.RawMessage `json:"records"`
	Aggregate json.RawMessage `json:"aggregate"`
	Entities  json.RawMessage `json:"entities"`

	Hearts     json.RawMessage `json:"hearts"`
	Horselul   json.RawMessage `json:"horselul"`
	UserHorses json.RawMessage `json:"userHorses"`
}

type persistedEntity struct {
	Color                Color   `json:"color"`
	Count                int     `json:"count"`
	X                    float64 `json:"x"`
	Y                    float64 `json:"y"`
	LastUpdateTimestamp  *int64  `json:"lastUpdateTimestamp"`
	Timestamp            *int64  `json:"timestamp"`
	Expiring             bool    `json:"isExpiring"`
	ExpiryStartTimestamp *int64  `json:"expiryStartTimestamp"`
	ExpiringAt           *int64  `json:"expiringAt"`
}

// Decode parses stored state. It never fails: every sub-structure that is
// missing or malformed falls back to its empty default, and the problem is
// logged. A nil or empty input yields Empty().
func Decode(b []byte) Snapshot {
	out := Empty()
	if len(b) == 0 {
		return out
	}
	var top persistedState
	if err := json.Unmarshal(b, &top); err != nil {
		slog.Warn("stored overlay state unreadable, starting empty", slog.Any("err", err), slog.String("component", "combo_codec"))
		return out
	}

	if recs, ok := decodeField[[]Record]("records", pick(top.Records, top.Hearts)); ok && recs != nil {
		out.Records = lo.Filter(recs, func(r Record, _ int) bool { return r.Username != "" })
	}
	if agg, ok := decodeField[Counters]("aggregate", pick(top.Aggregate, top.Horselul)); ok {
		out.Aggregate = repairCounters(agg)
	}
	if ents, ok := decodeField[map[string]persistedEntity]("entities", pick(top.Entities, top.UserHorses)); ok {
		for name, pe := range ents {
			if name == "" || pe.Count <= 0 {
				continue
			}
			out.Entities[name] = pe.entity()
		}
	}
	return out
}

func pick(current, legacy json.RawMessage) json.RawMessage {
	if len(current) > 0 && string(current) != "null" {
		return current
	}
	return legacy
}

func decodeField[T any](name string, raw json.RawMessage) (T, bool) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Warn("stored overlay field malformed, using default", slog.String("field", name), slog.Any("err", err), slog.String("component", "combo_codec"))
		var zero T
		return zero, false
	}
	return v, true
}

// repairCounters drops non-positive user counts and recomputes the total so
// that Total == sum(Users) holds after load.
func repairCounters(c Counters) Counters {
	users := lo.PickBy(c.Users, func(name string, n int) bool { return name != "" && n > 0 })
	if users == nil {
		users = map[string]int{}
	}
	return Counters{Total: lo.Sum(lo.Values(users)), Users: users}
}

func (pe persistedEntity) entity() Entity {
	e := Entity{
		Color:    pe.Color.Or(DefaultColor),
		Count:    pe.Count,
		X:        clamp(pe.X, 0, 100),
		Y:        clamp(pe.Y, 0, 100),
		Expiring: pe.Expiring,
	}
	switch {
	case pe.LastUpdateTimestamp != nil:
		e.LastUpdateTimestamp = *pe.LastUpdateTimestamp
	case pe.Timestamp != nil:
		e.LastUpdateTimestamp = *pe.Timestamp
	}
	if e.Expiring {
		switch {
		case pe.ExpiryStartTimestamp != nil:
			e.ExpiryStartTimestamp = *pe.ExpiryStartTimestamp
		case pe.ExpiringAt != nil:
			e.ExpiryStartTimestamp = *pe.ExpiringAt
		default:
			e.ExpiryStartTimestamp = e.LastUpdateTimestamp
		}
	}
	return e
}

func clamp(v, floor, ceil float64) float64 {
	return max(floor, min(ceil, v))
}
