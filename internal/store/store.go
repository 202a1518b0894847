// Package store holds the client-side state of the signed-in user and the
// current event with its media. Both holders are safe for concurrent use and
// only change state when a backend call completes.
package store

import (
	"github.com/and161185/qr-media-share/internal/errs"
)

// Notification texts raised when a backend call fails.
const (
	MsgCreateEventFailed = "Failed to create event"
	MsgSaveMediaFailed   = "Failed to save media"
	MsgFetchMediaFailed  = "Failed to fetch media items"
)

type configurer interface {
	Configured() bool
}

// requireConfigured fails fast when b reports it has no backend behind it.
func requireConfigured(b any) error {
	if c, ok := b.(configurer); ok && !c.Configured() {
		return errs.ErrNotConfigured
	}
	return nil
}
