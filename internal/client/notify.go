package client

import (
	"github.com/rs/zerolog"
)

// Notifier surfaces connection state to a person. Warn messages may be
// dismissed or replaced; a Persistent message stays until Dismiss.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Persistent(msg string)
	Dismiss()
}

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Info(msg string) { n.Log.Info().Msg(msg) }
func (n LogNotifier) Warn(msg string) { n.Log.Warn().Msg(msg) }

func (n LogNotifier) Persistent(msg string) {
	n.Log.Error().Bool("persistent", true).Msg(msg)
}

func (n LogNotifier) Dismiss() {}

type nopNotifier struct{}

func (nopNotifier) Info(string)       {}
func (nopNotifier) Warn(string)       {}
func (nopNotifier) Persistent(string) {}
func (nopNotifier) Dismiss()          {}
