package ingest

import (
	"context"
	"log"
	"time"
)

// SessionPruner deletes dashboard sessions that have gone quiet.
type SessionPruner interface {
	DeleteSessionsBefore(cutoff time.Time) (int64, error)
}

// Scheduler drops expired dashboard sessions on a fixed sweep. Station
// lists are only re-fetched on explicit request, never from here.
type Scheduler struct {
	sessions      SessionPruner
	sessionTTL    time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

func NewScheduler(sessions SessionPruner, sessionTTL time.Duration) *Scheduler {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Scheduler{
		sessions:      sessions,
		sessionTTL:    sessionTTL,
		sweepInterval: 15 * time.Minute,
		now:           time.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.pruneSessions()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-ticker.C:
			s.pruneSessions()
		}
	}
}

func (s *Scheduler) pruneSessions() {
	if s.sessions == nil {
		return
	}
	n, err := s.sessions.DeleteSessionsBefore(s.now().Add(-s.sessionTTL))
	if err != nil {
		log.Printf("scheduler: prune sessions: %v", err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: pruned %d expired sessions", n)
	}
}
