package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/ehr/contextapp/internal/platform/metrics"
	"github.com/ehr/contextapp/internal/platform/transport"
)

var ErrNotFound = errors.New("directory: patient not found")

const (
	DefaultRecordTTL      = 5 * time.Minute
	recordCleanupInterval = 10 * time.Minute
)

// Getter issues GET requests. Satisfied by *transport.Client.
type Getter interface {
	Get(ctx context.Context, rawURL string, values url.Values) (*transport.Response, error)
}

// Directory holds the patient list and caches patient records fetched from
// the patient API at baseURL (".../api/patient").
type Directory struct {
	http    Getter
	baseURL string
	logger  zerolog.Logger

	// records caches full patient records by id for recordTTL.
	records *cache.Cache

	mu        sync.RWMutex
	summaries []Summary
	index     map[string]int
}

// New creates a Directory. A non-positive ttl selects DefaultRecordTTL.
func New(g Getter, baseURL string, ttl time.Duration, logger zerolog.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &Directory{
		http:    g,
		baseURL: baseURL,
		logger:  logger.With().Str("component", "directory").Logger(),
		records: cache.New(ttl, recordCleanupInterval),
		index:   map[string]int{},
	}
}

// Load fetches the patient list and replaces the in-memory index. Cached
// records are dropped so a reloaded population is fetched afresh.
func (d *Directory) Load(ctx context.Context) ([]Summary, error) {
	resp, err := d.http.Get(ctx, d.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("load patient list: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("load patient list: unexpected status %d", resp.StatusCode)
	}

	var list []Summary
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("decode patient list: %w", err)
	}

	d.mu.Lock()
	d.summaries = d.summaries[:0]
	d.index = make(map[string]int, len(list))
	for _, s := range list {
		d.addLocked(s)
	}
	out := append([]Summary(nil), d.summaries...)
	d.mu.Unlock()
	d.records.Flush()

	d.logger.Info().Int("count", len(out)).Msg("patient list loaded")
	return out, nil
}

// List returns the patient list in load order.
func (d *Directory) List() []Summary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Summary(nil), d.summaries...)
}

// Find looks up a list entry by id.
func (d *Directory) Find(id string) (Summary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.index[id]
	if !ok {
		return Summary{}, false
	}
	return d.summaries[i], true
}

// Add inserts or replaces a list entry.
func (d *Directory) Add(s Summary) {
	d.mu.Lock()
	d.addLocked(s)
	d.mu.Unlock()
}

func (d *Directory) addLocked(s Summary) {
	if i, ok := d.index[s.ID]; ok {
		d.summaries[i] = s
		return
	}
	d.index[s.ID] = len(d.summaries)
	d.summaries = append(d.summaries, s)
}

// Get returns the full record for id, from cache when fresh.
func (d *Directory) Get(ctx context.Context, id string) (Patient, error) {
	if id == "" {
		return Patient{}, ErrNotFound
	}
	if v, ok := d.records.Get(id); ok {
		metrics.ObservePatientLookup("hit")
		return v.(Patient), nil
	}

	resp, err := d.http.Get(ctx, transport.BuildURL(d.baseURL, "", url.PathEscape(id)), nil)
	if err != nil {
		metrics.ObservePatientLookup("error")
		return Patient{}, fmt.Errorf("get patient %s: %w", id, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.ObservePatientLookup("not_found")
		return Patient{}, fmt.Errorf("get patient %s: %w", id, ErrNotFound)
	case !resp.OK():
		metrics.ObservePatientLookup("error")
		return Patient{}, fmt.Errorf("get patient %s: unexpected status %d", id, resp.StatusCode)
	}

	var p Patient
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		metrics.ObservePatientLookup("error")
		return Patient{}, fmt.Errorf("decode patient %s: %w", id, err)
	}
	if p.ID == "" {
		p.ID = id
	}
	metrics.ObservePatientLookup("fetched")
	d.records.SetDefault(id, p)
	return p, nil
}
