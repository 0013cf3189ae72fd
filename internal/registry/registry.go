package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/chat-escrow/backend/internal/models"
)

var (
	ErrNotFound         = errors.New("deal not found")
	ErrDuplicateSession = errors.New("deal already exists for session")
)

type entry struct {
	mu      sync.Mutex
	deal    models.Deal
	removed bool
}

// Registry holds every in-flight deal keyed by session id. Updates to one
// deal serialize on that deal's lock; distinct deals never contend beyond
// the short map lookup.
type Registry struct {
	mu    sync.RWMutex
	deals map[string]*entry
	now   func() time.Time
}

func New() *Registry {
	return &Registry{
		deals: make(map[string]*entry),
		now:   time.Now,
	}
}

func (r *Registry) Create(deal models.Deal) (models.Deal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deals[deal.ID]; ok {
		return models.Deal{}, ErrDuplicateSession
	}
	deal.UpdatedAt = r.now()
	deal.Revision = 1
	r.deals[deal.ID] = &entry{deal: deal.Clone()}
	return deal.Clone(), nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.deals[id]
	return e, ok
}

func (r *Registry) Get(id string) (models.Deal, error) {
	e, ok := r.lookup(id)
	if !ok {
		return models.Deal{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return models.Deal{}, ErrNotFound
	}
	return e.deal.Clone(), nil
}

// Update applies mutate to a copy of the deal and commits the copy only when
// mutate returns nil. The returned deal is the committed state, or the
// unchanged state together with mutate's error.
func (r *Registry) Update(id string, mutate func(*models.Deal) error) (models.Deal, error) {
	e, ok := r.lookup(id)
	if !ok {
		return models.Deal{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return models.Deal{}, ErrNotFound
	}

	next := e.deal.Clone()
	if err := mutate(&next); err != nil {
		return e.deal.Clone(), err
	}
	next.ID = e.deal.ID
	next.Code = e.deal.Code
	next.UpdatedAt = r.now()
	next.Revision = e.deal.Revision + 1
	e.deal = next
	return next.Clone(), nil
}

// UpdateWhere runs Update on every deal matching match. Deals removed or
// changed concurrently are re-checked under their own lock. It returns the
// committed deals.
func (r *Registry) UpdateWhere(match func(models.Deal) bool, mutate func(*models.Deal) error) []models.Deal {
	var updated []models.Deal
	for _, id := range r.ids() {
		d, err := r.Update(id, func(d *models.Deal) error {
			if !match(*d) {
				return errSkip
			}
			return mutate(d)
		})
		if err == nil {
			updated = append(updated, d)
		}
	}
	return updated
}

var errSkip = errors.New("skip")

// Remove deletes the deal. Removing an absent deal is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.deals[id]
	delete(r.deals, id)
	r.mu.Unlock()

	if ok {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
}

func (r *Registry) FindByCode(code string) (models.Deal, error) {
	for _, d := range r.List() {
		if d.Code == code {
			return d, nil
		}
	}
	return models.Deal{}, ErrNotFound
}

func (r *Registry) List() []models.Deal {
	ids := r.ids()
	deals := make([]models.Deal, 0, len(ids))
	for _, id := range ids {
		if d, err := r.Get(id); err == nil {
			deals = append(deals, d)
		}
	}
	return deals
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.deals)
}

func (r *Registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.deals))
	for id := range r.deals {
		ids = append(ids, id)
	}
	return ids
}
