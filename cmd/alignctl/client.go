package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/nasa-jpl/vectormagnet/generichttp"
	"github.com/nasa-jpl/vectormagnet/save"
)

// Progress is the reply of /align/progress
type Progress struct {
	State   string        `json:"state"`
	RunID   string        `json:"runId"`
	Index   int           `json:"index"`
	Total   int           `json:"total"`
	Elapsed time.Duration `json:"elapsed"`
	ETA     time.Duration `json:"eta"`
}

func (p Progress) String() string {
	s := fmt.Sprintf("%s %d/%d", p.State, p.Index, p.Total)
	if p.ETA > 0 {
		s += fmt.Sprintf(", %s left", p.ETA.Round(time.Second))
	}
	return s
}

// Client talks to the aligner routes of a magnetsrv endpoint
type Client struct {
	URL  string
	HTTP *http.Client
}

func (c Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var rd io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return err
		}
		rd = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL+path, rd)
	if err != nil {
		return err
	}
	cl := c.HTTP
	if cl == nil {
		cl = http.DefaultClient
	}
	resp, err := cl.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Start begins a sweep, or resumes the last one if cont is true
func (c Client) Start(ctx context.Context, cont bool) error {
	path := "/align/start"
	if cont {
		path = "/align/continue"
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Stop asks the sweep to stop; abort also halts the magnet
func (c Client) Stop(ctx context.Context, abort bool) error {
	path := "/align/stop"
	if abort {
		path += "?abort=true"
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Progress returns the progress of the sweep
func (c Client) Progress(ctx context.Context) (Progress, error) {
	var p Progress
	err := c.do(ctx, http.MethodGet, "/align/progress", nil, &p)
	return p, err
}

// Save saves the last sweep and returns the name of its FITS file
func (c Client) Save(ctx context.Context, tag string) (string, error) {
	var f save.Files
	err := c.do(ctx, http.MethodPost, "/align/save", generichttp.StrT{Str: tag}, &f)
	return filepath.Base(f.FITS), err
}

// Poll calls fn with the progress every interval until the sweep is idle
func (c Client) Poll(ctx context.Context, interval time.Duration, fn func(Progress)) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		p, err := c.Progress(ctx)
		if err != nil {
			return err
		}
		fn(p)
		if p.State == "idle" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}
