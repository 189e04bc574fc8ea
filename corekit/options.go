package corekit

import (
	"context"
	"log/slog"
	"time"
)

// UXMode selects how OAuth logins complete.
type UXMode string

const (
	// UXModePopup completes the login inside the LoginWithOauth call.
	UXModePopup UXMode = "POPUP"
	// UXModeRedirect stashes the flow and completes it through
	// HandleRedirectResult after the process comes back.
	UXModeRedirect UXMode = "REDIRECT"
)

// Options configures a CoreKit instance.
type Options struct {
	// ClientID identifies the application; attached to log records.
	ClientID string

	// ManualSync buffers metadata mutations locally until CommitChanges.
	// Default is automatic sync.
	ManualSync bool

	// ManualKeySetup disables automatic key provisioning for accounts
	// without a TSS key, leaving them in REQUIRED_SHARE after login so a
	// key can be brought in through ImportTssKey.
	ManualKeySetup bool

	// SessionTTL bounds the persisted session snapshot. Default 24h.
	SessionTTL time.Duration

	// SessionStorageKey overrides the storage key for the snapshot.
	SessionStorageKey string

	// UXMode selects popup or redirect login completion. Default popup.
	UXMode UXMode

	// TssNodeDomain, when set, is resolved to TSS node endpoints via DNS
	// SRV at login time.
	TssNodeDomain string

	// Log is the structured logger; a no-op logger is used when nil.
	Log *slog.Logger
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.SessionTTL == 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.UXMode == "" {
		opts.UXMode = UXModePopup
	}
	if opts.Log == nil {
		opts.Log = slog.New(discardHandler{})
	}
	if opts.ClientID != "" {
		opts.Log = opts.Log.With(slog.String("clientId", opts.ClientID))
	}
	return opts
}

// discardHandler drops all records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
