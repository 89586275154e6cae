package patient

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepo struct {
	mu       sync.RWMutex
	patients map[string]*Patient
}

// NewMemoryRepo returns an in-memory Repository holding seed.
func NewMemoryRepo(seed ...*Patient) Repository {
	r := &memoryRepo{patients: make(map[string]*Patient, len(seed))}
	for _, p := range seed {
		r.Upsert(context.Background(), p)
	}
	return r
}

func (r *memoryRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	r.mu.RLock()
	all := make([]*Patient, 0, len(r.patients))
	for _, p := range r.patients {
		cp := *p
		all = append(all, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.ID < b.ID
	})

	total := len(all)
	if offset > total {
		offset = total
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) Upsert(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	cp := *p
	if existing, ok := r.patients[p.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.patients[p.ID] = &cp
	return nil
}

// DemoPatients is the sample population served when no database is
// configured.
func DemoPatients() []*Patient {
	return []*Patient{
		{ID: "1001", FirstName: "Jane", LastName: "Doe", Birthday: "19800101", Sex: "f", Phone: "555-0101", Mail: "jane.doe@example.org", Address: "12 Elm St, Springfield"},
		{ID: "1002", FirstName: "Richard", LastName: "Roe", Birthday: "19721115", Sex: "m", Phone: "555-0102", Address: "7 Oak Ave, Springfield", Notes: "Penicillin allergy"},
		{ID: "1003", FirstName: "Maria", LastName: "Garcia", Birthday: "19910630", Sex: "f", Mail: "m.garcia@example.org"},
		{ID: "1004", FirstName: "Wei", LastName: "Chen", Birthday: "19650204", Sex: "m", Phone: "555-0104"},
		{ID: "1005", FirstName: "Amara", LastName: "Okafor", Birthday: "20010919", Sex: "f", Address: "301 Pine Rd, Shelbyville"},
	}
}
