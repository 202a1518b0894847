// Package notify raises short-lived user notifications.
package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Notifier shows a transient error message to the user.
type Notifier interface {
	Error(msg string)
}

// Log writes notifications to a zap logger.
type Log struct {
	log *zap.Logger
}

// NewLog returns a Notifier backed by log.
func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log.Named("notify")}
}

func (n *Log) Error(msg string) { n.log.Error(msg) }

// Recorder keeps notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *Recorder) Error(msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}
