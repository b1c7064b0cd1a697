package session

import "relaybot/internal/models"

// UpdateKind says how a finished turn changes the session.
type UpdateKind int

const (
	UpdateNone UpdateKind = iota
	UpdateTouch
	UpdateAppend
	UpdateReset
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateTouch:
		return "touch"
	case UpdateAppend:
		return "append"
	case UpdateReset:
		return "reset"
	default:
		return "none"
	}
}

// Update is the delta a handler returns. The store applies it only after the
// handler succeeded, so a failed turn never leaves a partial write.
type Update struct {
	Kind     UpdateKind
	Messages []*models.Message
}

func NoUpdate() Update { return Update{Kind: UpdateNone} }

func TouchUpdate() Update { return Update{Kind: UpdateTouch} }

func ResetUpdate() Update { return Update{Kind: UpdateReset} }

// AppendUpdate records new turns at the end of the history.
func AppendUpdate(msgs ...*models.Message) Update {
	return Update{Kind: UpdateAppend, Messages: msgs}
}
