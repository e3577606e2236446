package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T) (*httptest.Server, *int32) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/magnet/align/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/magnet/align/continue", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no unfinished sweep to continue", http.StatusConflict)
	})
	mux.HandleFunc("/magnet/align/progress", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		p := Progress{State: "running", Index: int(n), Total: 3}
		if n >= 3 {
			p.State = "idle"
		}
		json.NewEncoder(w).Encode(p)
	})
	mux.HandleFunc("/magnet/align/save", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Str string `json:"str"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]string{"fits": "/data/" + body.Str + "_matrix.fits"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestClientStartAndPoll(t *testing.T) {
	srv, polls := fakeServer(t)
	c := Client{URL: srv.URL + "/magnet"}
	ctx := context.Background()
	require.NoError(t, c.Start(ctx, false))

	var seen []Progress
	err := c.Poll(ctx, time.Millisecond, func(p Progress) { seen = append(seen, p) })
	require.NoError(t, err)
	assert.Len(t, seen, 3)
	assert.Equal(t, "idle", seen[2].State)
	assert.EqualValues(t, 3, atomic.LoadInt32(polls))
}

func TestClientErrorCarriesBody(t *testing.T) {
	srv, _ := fakeServer(t)
	c := Client{URL: srv.URL + "/magnet"}
	err := c.Start(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.Contains(t, err.Error(), "no unfinished sweep")
}

func TestClientSave(t *testing.T) {
	srv, _ := fakeServer(t)
	c := Client{URL: srv.URL + "/magnet"}
	name, err := c.Save(context.Background(), "fiber")
	require.NoError(t, err)
	assert.Equal(t, "fiber_matrix.fits", name)
}

func TestPollCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Progress{State: "running"})
	}))
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := Client{URL: srv.URL}.Poll(ctx, 5*time.Millisecond, func(Progress) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProgressString(t *testing.T) {
	p := Progress{State: "running", Index: 4, Total: 10, ETA: 90 * time.Second}
	assert.Equal(t, "running 4/10, 1m30s left", p.String())
}
