package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cwrk-planet/docsync/internal/chatlog"
	"github.com/cwrk-planet/docsync/internal/domain"
)

type Config struct {
	RoomID      domain.RoomID
	DisplayName string

	// ReconnectAttempts bounds retries after a failure; 0 disables reconnecting.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	// ReconnectJitter is the backoff randomization factor in [0, 1).
	ReconnectJitter float64
	ConnectTimeout  time.Duration
	// SyncTimeout forces the synced flag when the document layer never reports it.
	// Zero keeps waiting for MarkSynced.
	SyncTimeout time.Duration
	DedupWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		DisplayName:       "Anonymous",
		ReconnectAttempts: 5,
		ReconnectDelay:    time.Second,
		ReconnectMaxDelay: 10 * time.Second,
		ReconnectJitter:   0.2,
		ConnectTimeout:    10 * time.Second,
		SyncTimeout:       2 * time.Second,
		DedupWindow:       chatlog.DefaultWindow,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DisplayName == "" {
		c.DisplayName = d.DisplayName
	}
	if c.ReconnectAttempts < 0 {
		c.ReconnectAttempts = 0
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.ReconnectMaxDelay < c.ReconnectDelay {
		c.ReconnectMaxDelay = c.ReconnectDelay
	}
	if c.ReconnectJitter < 0 || c.ReconnectJitter >= 1 {
		c.ReconnectJitter = 0
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.SyncTimeout < 0 {
		c.SyncTimeout = 0
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = d.DedupWindow
	}
	return c
}

func (c Config) backoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.ReconnectDelay
	eb.MaxInterval = c.ReconnectMaxDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = c.ReconnectJitter
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, uint64(c.ReconnectAttempts))
}
