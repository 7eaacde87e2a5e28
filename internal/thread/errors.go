package thread

import "errors"

var (
	// ErrNoMessages means a caller asked for a message count before the first
	// successful fetch. That's caller misuse, not a recoverable condition.
	ErrNoMessages = errors.New("no message details loaded")

	// ErrCannotMuteRepeat is a user-facing policy rejection, not a failure:
	// repeating items can never be muted.
	ErrCannotMuteRepeat = errors.New("cannot mute a repeating item")

	// ErrInvariant marks a state that should be impossible, like observing a
	// stored blocked value of literal false. Never caught and retried
	// internally.
	ErrInvariant = errors.New("invariant violation")
)
