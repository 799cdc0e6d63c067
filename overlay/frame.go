package overlay

import (
	"maps"
	"slices"

	"github.com/onnwee/combo-overlay/backend/combo"
	"github.com/onnwee/combo-overlay/backend/lifecycle"
	"github.com/onnwee/combo-overlay/backend/physics"
)

// Entity view sizing in pixels before the size multiplier.
const (
	EntityBaseHeight = 50.0
	EntityStepHeight = 50.0
	EntityMaxHeight  = 500.0
	EntityAspect     = 64.0 / 26.0
)

// EntityHeight returns the rendered height of an entity with count events.
func EntityHeight(count int) float64 {
	if count < 1 {
		count = 1
	}
	return min(EntityBaseHeight+EntityStepHeight*float64(count-1), EntityMaxHeight)
}

// EntityView is the render state of one persistent entity.
type EntityView struct {
	Username  string          `json:"username"`
	Color     combo.Color     `json:"color"`
	TextColor combo.Color     `json:"textColor"`
	Hue       float64         `json:"hue"`
	Count     int             `json:"count"`
	X         float64         `json:"x"`
	Y         float64         `json:"y"`
	Width     float64         `json:"width"`
	Height    float64         `json:"height"`
	State     lifecycle.State `json:"state"`
}

// DropView is a falling drop with its current vertical position.
type DropView struct {
	physics.Drop
	Y float64 `json:"y"`
}

// Totals are the channel-wide counts shown by the overlay.
type Totals struct {
	Primary   int `json:"primary"`
	Secondary int `json:"secondary"`
}

// Frame is the abstract render state of a channel at one instant.
type Frame struct {
	Channel     string                 `json:"channel"`
	Timestamp   int64                  `json:"timestamp"`
	Settings    Settings               `json:"settings"`
	Entities    []EntityView           `json:"entities"`
	Bodies      []physics.Body         `json:"bodies"`
	Updates     []physics.Update       `json:"updates,omitempty"`
	Drops       []DropView             `json:"drops"`
	Transitions []lifecycle.Transition `json:"transitions,omitempty"`
	Totals      Totals                 `json:"totals"`
	Leaders     []combo.Standing       `json:"leaders,omitempty"`
}

func buildEntityViews(snap combo.Snapshot, states map[string]lifecycle.State, sizeMul float64) []EntityView {
	out := make([]EntityView, 0, len(snap.Entities))
	for _, name := range slices.Sorted(maps.Keys(snap.Entities)) {
		e := snap.Entities[name]
		h := EntityHeight(e.Count) * sizeMul
		st, ok := states[name]
		if !ok {
			st = lifecycle.Initial
		}
		out = append(out, EntityView{
			Username:  name,
			Color:     e.Color,
			TextColor: e.Color.ContrastText(),
			Hue:       e.Color.Hue(),
			Count:     e.Count,
			X:         e.X,
			Y:         e.Y,
			Width:     h * EntityAspect,
			Height:    h,
			State:     st,
		})
	}
	return out
}

func buildDropViews(drops []physics.Drop, now int64, f physics.Field) []DropView {
	out := make([]DropView, 0, len(drops))
	for _, d := range drops {
		out = append(out, DropView{Drop: d, Y: d.YAt(now, f)})
	}
	return out
}
