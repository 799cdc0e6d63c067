package chat

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/combo-overlay/backend/combo"
)

// Bits assumed for dev triggers and simulated events.
const (
	DevSecondaryBits = 5
	DevPrimaryBits   = 50
)

// MsgIDOneTapGift is the USERNOTICE msg-id of a one-tap gift redemption.
const MsgIDOneTapGift = "onetapgiftredeemed"

var devTrigger = regexp.MustCompile(`(?i)^#(horselul|heart|hearts)(\s|$)`)

// Normalizer turns chat messages into combo events.
type Normalizer struct {
	// DevMode enables the #heart, #hearts and #horselul chat triggers.
	DevMode bool
	// Now stamps events; defaults to time.Now.
	Now func() time.Time
}

func (n Normalizer) now() int64 {
	if n.Now != nil {
		return n.Now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

// FromTags recognizes a one-tap gift redemption from raw IRC tags. The gift
// id selects the category; any other gift is ignored.
func (n Normalizer) FromTags(tags map[string]string) (combo.Event, bool) {
	if tags["msg-id"] != MsgIDOneTapGift {
		return combo.Event{}, false
	}
	spent, gift := tags["msg-param-bits-spent"], tags["msg-param-gift-id"]
	if spent == "" || gift == "" {
		return combo.Event{}, false
	}
	cat, ok := giftCategory(gift)
	if !ok {
		return combo.Event{}, false
	}
	bits, _ := strconv.Atoi(spent)
	name := tags["msg-param-user-display-name"]
	if name == "" {
		name = tags["display-name"]
	}
	return combo.Event{
		Type:      cat,
		Username:  name,
		Color:     combo.ParseColor(tags["color"]),
		Bits:      bits,
		Timestamp: n.now(),
	}.Normalize(), true
}

func giftCategory(gift string) (combo.Category, bool) {
	switch strings.ToLower(gift) {
	case "heart", "hearts":
		return combo.CategorySecondary, true
	case "horselul":
		return combo.CategoryPrimary, true
	}
	return "", false
}

// FromUserNotice handles USERNOTICE messages.
func (n Normalizer) FromUserNotice(msg twitch.UserNoticeMessage) (combo.Event, bool) {
	tags := msg.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	if _, ok := tags["msg-id"]; !ok && msg.MsgID != "" {
		tags = cloneWith(tags, "msg-id", msg.MsgID)
	}
	return n.FromTags(tags)
}

// FromPrivateMessage handles regular chat: a bit cheer whose text names a
// category, or (in dev mode) a trigger at the start of the message.
func (n Normalizer) FromPrivateMessage(msg twitch.PrivateMessage) (combo.Event, bool) {
	name := msg.User.Name
	if name == "" {
		name = msg.User.DisplayName
	}
	ev := combo.Event{
		Username:  name,
		Color:     combo.ParseColor(msg.User.Color),
		Timestamp: n.now(),
	}

	if msg.Bits > 0 {
		text := strings.ToLower(msg.Message)
		switch {
		case strings.Contains(text, "heart"):
			ev.Type = combo.CategorySecondary
		case strings.Contains(text, "horselul"):
			ev.Type = combo.CategoryPrimary
		}
		if ev.Type != "" {
			ev.Bits = msg.Bits
			return ev.Normalize(), true
		}
	}

	if !n.DevMode {
		return combo.Event{}, false
	}
	m := devTrigger.FindStringSubmatch(strings.TrimSpace(msg.Message))
	if m == nil {
		return combo.Event{}, false
	}
	ev.Type, _ = ParseTrigger(m[1])
	ev.Bits = DefaultBits(ev.Type)
	return ev.Normalize(), true
}

// FromRaw parses one raw IRC line, as used by the simulation endpoint. Lines
// Twitch would never send, or that carry no combo, return false.
func (n Normalizer) FromRaw(line string) (combo.Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return combo.Event{}, false
	}
	switch msg := twitch.ParseMessage(line).(type) {
	case *twitch.UserNoticeMessage:
		return n.FromUserNotice(*msg)
	case *twitch.PrivateMessage:
		return n.FromPrivateMessage(*msg)
	case *twitch.RawMessage:
		return n.FromTags(msg.Tags)
	}
	return combo.Event{}, false
}

// Simulated builds a dev event the way a trigger would.
func (n Normalizer) Simulated(cat combo.Category, username string, color combo.Color) combo.Event {
	if username == "" {
		username = "testuser"
	}
	return combo.Event{
		Type:      cat,
		Username:  username,
		Color:     color,
		Bits:      DefaultBits(cat),
		Timestamp: n.now(),
	}.Normalize()
}

// ParseTrigger maps a trigger word (without '#') to its category.
func ParseTrigger(word string) (combo.Category, bool) {
	return giftCategory(word)
}

// DefaultBits is the bit value assumed for a category when none is known.
func DefaultBits(cat combo.Category) int {
	if cat == combo.CategorySecondary {
		return DevSecondaryBits
	}
	return DevPrimaryBits
}

func cloneWith(m map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for key, val := range m {
		out[key] = val
	}
	out[k] = v
	return out
}
