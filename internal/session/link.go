package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cwrk-planet/docsync/internal/domain"
	"github.com/cwrk-planet/docsync/pkg/logger"
)

// link keeps one channel connected. It runs on its own goroutine and reports
// state changes and inbound frames to the session through post.
type link struct {
	ch     Channel
	room   domain.RoomID
	epoch  uint64
	cfg    Config
	dialer Dialer
	log    *slog.Logger

	// onOpen runs on every fresh transport before it is reported Connected.
	onOpen func(t Transport) error
	post   func(ctx context.Context, fn func())

	onState func(epoch uint64, ch Channel, st State, attempt int, err error)
	onFrame func(epoch uint64, ch Channel, binary bool, data []byte)

	mu sync.Mutex
	t  Transport
}

func (l *link) send(binary bool, data []byte) error {
	l.mu.Lock()
	t := l.t
	l.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	return t.WriteMessage(binary, data)
}

func (l *link) report(ctx context.Context, st State, attempt int, err error) {
	epoch, ch := l.epoch, l.ch
	l.post(ctx, func() { l.onState(epoch, ch, st, attempt, err) })
}

func (l *link) run(ctx context.Context) {
	b := l.cfg.backoff()
	attempt := 0

	l.report(ctx, StateConnecting, 0, nil)
	for {
		t, err := l.dial(ctx)
		if err == nil {
			err = l.serve(ctx, t, b)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrCleanClose) {
				l.log.Info("link closed by peer")
				l.report(ctx, StateDisconnected, 0, nil)
				return
			}
			attempt = 0
			l.log.Warn("link dropped", logger.Err(err))
			l.report(ctx, StateDisconnected, 0, err)
		} else if ctx.Err() != nil {
			return
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			l.log.Error("link giving up", slog.Int("attempts", attempt), logger.Err(err))
			l.report(ctx, StateErrored, attempt, fmt.Errorf("%w: %w", ErrConnectionFailed, err))
			return
		}
		attempt++
		l.log.Info("link reconnecting", slog.Int("attempt", attempt), slog.Duration("delay", delay))
		l.report(ctx, StateReconnecting, attempt, fmt.Errorf("%w: %w", ErrDisconnectedRetrying, err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (l *link) dial(ctx context.Context) (Transport, error) {
	dctx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
	defer cancel()
	return l.dialer.Dial(dctx, l.ch, l.room)
}

// serve owns t until it fails or ctx ends.
func (l *link) serve(ctx context.Context, t Transport, b backoff.BackOff) error {
	stop := context.AfterFunc(ctx, func() { _ = t.Close(true) })
	defer func() {
		stop()
		l.mu.Lock()
		l.t = nil
		l.mu.Unlock()
		_ = t.Close(false)
	}()

	if l.onOpen != nil {
		if err := l.onOpen(t); err != nil {
			return fmt.Errorf("open %s: %w", l.ch, err)
		}
	}

	l.mu.Lock()
	l.t = t
	l.mu.Unlock()

	b.Reset()
	l.report(ctx, StateConnected, 0, nil)

	epoch, ch := l.epoch, l.ch
	for {
		binary, data, err := t.ReadMessage()
		if err != nil {
			return err
		}
		l.post(ctx, func() { l.onFrame(epoch, ch, binary, data) })
	}
}
