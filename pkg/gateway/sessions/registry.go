// Package sessions tracks interview sessions between HTTP creation and
// websocket attachment, and drains them on shutdown.
package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextstep-labs/interviewd/pkg/gateway/persona"
	"github.com/nextstep-labs/interviewd/pkg/gateway/session"
)

var (
	// ErrSessionNotFound means the id was never created or already evicted.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionBusy means another connection already drives the session.
	ErrSessionBusy = errors.New("session already has a connection")
	// ErrSessionFinalized means the session already delivered its report.
	ErrSessionFinalized = errors.New("session already finalized")
)

// DefaultTTL is how long an idle, unattached session survives.
const DefaultTTL = 10 * time.Minute

type entry struct {
	machine  *session.Machine
	cancel   context.CancelFunc
	attached bool
	lastSeen time.Time
}

// Registry holds the live session set. All methods are safe for
// concurrent use and nil-safe.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewRegistry creates a registry with the given idle TTL for unattached
// sessions. ttl <= 0 falls back to DefaultTTL.
func NewRegistry(ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

// Create registers a new interview session and returns its machine. The
// session id is a fresh UUID.
func (r *Registry) Create(targetRole, candidateName string, p persona.Persona, maxTurns int) *session.Machine {
	machine := session.NewMachine(uuid.NewString(), targetRole, candidateName, p, maxTurns)

	r.mu.Lock()
	r.entries[machine.ID()] = &entry{machine: machine, lastSeen: r.now()}
	r.mu.Unlock()

	r.logger.Info("session created",
		slog.String("session_id", machine.ID()),
		slog.String("role", targetRole))
	return machine
}

// Lookup returns the machine for an id without attaching to it.
func (r *Registry) Lookup(id string) (*session.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.machine, nil
}

// Attach claims the session for one connection. cancel is invoked on
// CancelAll during shutdown. The returned detach must be called when the
// connection's runner exits; it is idempotent.
func (r *Registry) Attach(id string, cancel context.CancelFunc) (*session.Machine, func(), error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, nil, ErrSessionNotFound
	}
	if e.attached {
		r.mu.Unlock()
		return nil, nil, ErrSessionBusy
	}
	if e.machine.Status() == session.StatusFinalized {
		r.mu.Unlock()
		return nil, nil, ErrSessionFinalized
	}
	e.attached = true
	e.cancel = cancel
	e.lastSeen = r.now()
	r.wg.Add(1)
	r.mu.Unlock()

	var once sync.Once
	detach := func() { once.Do(func() { r.detach(id, e) }) }
	return e.machine, detach, nil
}

func (r *Registry) detach(id string, e *entry) {
	r.mu.Lock()
	e.attached = false
	e.cancel = nil
	e.lastSeen = r.now()
	if e.machine.Status() == session.StatusFinalized {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	r.wg.Done()
}

// Count returns the number of tracked sessions.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Evict drops unattached sessions idle past the TTL and returns how many
// were removed.
func (r *Registry) Evict() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var evicted []string
	for id, e := range r.entries {
		if !e.attached && e.lastSeen.Before(cutoff) {
			delete(r.entries, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	for _, id := range evicted {
		r.logger.Info("session evicted", slog.String("session_id", id))
	}
	return len(evicted)
}

// Run evicts periodically until ctx is canceled.
func (r *Registry) Run(ctx context.Context) {
	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict()
		}
	}
}

// CancelAll cancels every attached connection, for shutdown.
func (r *Registry) CancelAll() (canceled int) {
	if r == nil {
		return 0
	}

	var cancels []context.CancelFunc
	r.mu.Lock()
	for _, e := range r.entries {
		if e.attached && e.cancel != nil {
			cancels = append(cancels, e.cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every attached connection detaches, or ctx expires.
// Returns true when fully drained.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
