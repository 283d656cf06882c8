package session

import (
	"log/slog"
	"time"

	"github.com/cwrk-planet/docsync/pkg/logger"
)

func (s *Session) armSyncTimer(epoch uint64) {
	s.stopSyncTimer()
	if s.synced || s.cfg.SyncTimeout <= 0 {
		return
	}
	s.syncGen++
	gen := s.syncGen
	s.syncTimer = time.AfterFunc(s.cfg.SyncTimeout, func() {
		s.post(func() { s.onSyncTimeout(epoch, gen) })
	})
}

func (s *Session) stopSyncTimer() {
	if s.syncTimer != nil {
		s.syncTimer.Stop()
		s.syncTimer = nil
	}
	// a timer that already fired is filtered by generation
	s.syncGen++
}

func (s *Session) onSyncTimeout(epoch, gen uint64) {
	if epoch != s.epoch || gen != s.syncGen || s.stopped {
		return
	}
	s.log.Info("sync not reported in time, assuming synced", slog.Duration("timeout", s.cfg.SyncTimeout))
	s.markSynced("timeout")
}

func (s *Session) markSynced(reason string) {
	if s.stopped || s.synced || s.states[ChannelUpdates] != StateConnected {
		return
	}
	s.synced = true
	s.stopSyncTimer()
	s.log.Debug("document synced", slog.String("by", reason))
	s.emit(Event{Kind: EventSynced})
	s.reconcile()
}

// reconcile injects the persisted snapshot once per sync cycle, only into a
// synced document that is still empty and only while the update link can carry
// the result to peers. Live content always wins.
func (s *Session) reconcile() {
	if !s.synced || s.injected || s.pending == nil {
		return
	}
	if s.states[ChannelUpdates] != StateConnected {
		return
	}
	s.injected = true
	content := *s.pending

	if !s.doc.Empty() {
		s.log.Info("persisted content discarded: live document not empty")
		s.emit(Event{Kind: EventReconciled, Injected: false})
		return
	}
	if content == "" {
		s.emit(Event{Kind: EventReconciled, Injected: false})
		return
	}

	frame, err := s.doc.Insert(content)
	if err != nil {
		s.log.Error("inject persisted content", logger.Err(err))
		s.emit(Event{Kind: EventError, Err: err})
		return
	}
	if err := s.sendOn(ChannelUpdates, true, frame); err != nil {
		s.log.Warn("injected update not sent", logger.Err(err))
	}
	s.log.Info("persisted content injected", slog.Int("bytes", len(content)))
	s.emit(Event{Kind: EventReconciled, Injected: true})
	s.emit(Event{Kind: EventDocument})
}
