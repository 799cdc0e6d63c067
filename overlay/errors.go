package overlay

import "errors"

var (
	// ErrChannelClosed is returned by commands sent to a stopped channel.
	ErrChannelClosed = errors.New("overlay channel closed")
	// ErrUnknownCategory rejects events whose category is neither primary nor secondary.
	ErrUnknownCategory = errors.New("unknown combo category")
	// ErrTooManyChannels is returned when the on-demand channel limit is reached.
	ErrTooManyChannels = errors.New("too many overlay channels")
)

// ErrInvalidChannel rejects names that are not Twitch logins.
var ErrInvalidChannel = errors.New("invalid channel name")
