package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/contextapp/internal/platform/transport"
)

func newPatientServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/app/api/patient", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"1001","name":"Doe, Jane"},{"id":"1002","name":"Roe, Richard"}]`))
	})
	mux.HandleFunc("/app/api/patient/1001", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1001","firstName":"Jane","lastName":"Doe","sex":"f"}`))
	})
	mux.HandleFunc("/app/api/patient/broken", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})
	mux.HandleFunc("/app/api/patient/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestDirectory(t *testing.T, hits *int32) *Directory {
	srv := newPatientServer(t, hits)
	client := transport.New(srv.Client(), zerolog.Nop())
	return New(client, srv.URL+"/app/api/patient", 0, zerolog.Nop())
}

func TestDirectory_Load(t *testing.T) {
	var hits int32
	d := newTestDirectory(t, &hits)

	list, err := d.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Summary{{ID: "1001", Name: "Doe, Jane"}, {ID: "1002", Name: "Roe, Richard"}}, list)
	assert.Equal(t, list, d.List())

	s, ok := d.Find("1002")
	require.True(t, ok)
	assert.Equal(t, "Roe, Richard", s.Name)

	_, ok = d.Find("9999")
	assert.False(t, ok)
}

func TestDirectory_AddReplacesEntry(t *testing.T) {
	d := New(nil, "http://unused", 0, zerolog.Nop())
	d.Add(Summary{ID: "1", Name: "A"})
	d.Add(Summary{ID: "2", Name: "B"})
	d.Add(Summary{ID: "1", Name: "A2"})

	assert.Equal(t, []Summary{{ID: "1", Name: "A2"}, {ID: "2", Name: "B"}}, d.List())
}

func TestDirectory_GetCachesRecords(t *testing.T) {
	var hits int32
	d := newTestDirectory(t, &hits)

	p, err := d.Get(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "Doe", p.LastName)

	_, err = d.Get(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// reloading the list refreshes records
	_, err = d.Load(context.Background())
	require.NoError(t, err)
	_, err = d.Get(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestDirectory_GetErrors(t *testing.T) {
	var hits int32
	d := newTestDirectory(t, &hits)

	_, err := d.Get(context.Background(), "")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = d.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = d.Get(context.Background(), "broken")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	_, err = d.Get(context.Background(), "down")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestDirectory_LoadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(transport.New(srv.Client(), zerolog.Nop()), srv.URL, 0, zerolog.Nop())
	_, err := d.Load(context.Background())
	assert.Error(t, err)
	assert.Empty(t, d.List())
}
