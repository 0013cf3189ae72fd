package services

import (
	"sync"
	"time"

	"github.com/chat-escrow/backend/internal/models"
)

type inputTimer struct {
	timer *time.Timer
	stage models.Stage
	gen   uint64
}

// inputTimers keeps at most one pending input wait per deal. A wait is tied
// to the stage it was armed for; a stale firing is dropped. Requests carry
// the deal revision they were computed from and are ignored once a newer
// revision has been seen, so callers may race without reordering.
type inputTimers struct {
	mu     sync.Mutex
	timers map[string]*inputTimer
	revs   map[string]uint64
	gen    uint64
}

func newInputTimers() *inputTimers {
	return &inputTimers{
		timers: make(map[string]*inputTimer),
		revs:   make(map[string]uint64),
	}
}

// observe records rev for dealID and reports whether it is not older than
// the latest revision seen. Callers hold t.mu.
func (t *inputTimers) observe(dealID string, rev uint64) bool {
	if rev < t.revs[dealID] {
		return false
	}
	t.revs[dealID] = rev
	return true
}

// arm starts a wait for stage unless one for the same stage is pending.
func (t *inputTimers) arm(dealID string, rev uint64, stage models.Stage, d time.Duration, expire func(dealID string, stage models.Stage)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.observe(dealID, rev) {
		return
	}
	if cur, ok := t.timers[dealID]; ok {
		if cur.stage == stage {
			return
		}
		cur.timer.Stop()
	}

	t.gen++
	gen := t.gen
	it := &inputTimer{stage: stage, gen: gen}
	it.timer = time.AfterFunc(d, func() {
		if t.take(dealID, gen) {
			expire(dealID, stage)
		}
	})
	t.timers[dealID] = it
}

func (t *inputTimers) take(dealID string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.timers[dealID]
	if !ok || cur.gen != gen {
		return false
	}
	delete(t.timers, dealID)
	return true
}

// disarm cancels the pending wait unless rev is older than one already seen.
func (t *inputTimers) disarm(dealID string, rev uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.observe(dealID, rev) {
		return
	}
	t.stop(dealID)
}

// forget cancels the wait and drops the revision history for a finished deal.
func (t *inputTimers) forget(dealID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stop(dealID)
	delete(t.revs, dealID)
}

func (t *inputTimers) stop(dealID string) {
	if cur, ok := t.timers[dealID]; ok {
		cur.timer.Stop()
		delete(t.timers, dealID)
	}
}

func (t *inputTimers) pending(dealID string) (models.Stage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.timers[dealID]
	if !ok {
		return "", false
	}
	return cur.stage, true
}

func (t *inputTimers) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.timers {
		t.stop(id)
	}
	clear(t.revs)
}
