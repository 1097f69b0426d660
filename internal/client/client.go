// Package client is a typed HTTP client for the GuideVault API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/voyagen/guidevault/internal/jobs"
	"github.com/voyagen/guidevault/internal/models"
)

// APIError is a non-2xx response. A 409 matches jobs.ErrConflict.
type APIError struct {
	StatusCode  int
	Detail      string
	ActiveJobID int64
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("guidevault: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("guidevault: HTTP %d: %s", e.StatusCode, e.Detail)
}

func (e *APIError) Is(target error) bool {
	return target == jobs.ErrConflict && e.StatusCode == http.StatusConflict
}

// Client calls a GuideVault server.
type Client struct {
	base string
	http *http.Client
}

// New returns a Client for baseURL (e.g. "http://localhost:8080").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Detail      string `json:"detail"`
			ActiveJobID int64  `json:"active_job_id"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Detail, apiErr.ActiveJobID = envelope.Detail, envelope.ActiveJobID
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

type jobCreated struct {
	JobID int64 `json:"job_id"`
}

func id(n int64) string { return strconv.FormatInt(n, 10) }

// StartSync starts a sync of target. categoryIDs, when non-nil, is stored
// as the provider API category selection first.
func (c *Client) StartSync(ctx context.Context, target models.Target, categoryIDs []string) (int64, error) {
	var in any
	if categoryIDs != nil {
		in = map[string][]string{"category_ids": categoryIDs}
	}
	var out jobCreated
	err := c.do(ctx, http.MethodPost, "/sync/"+string(target.Kind)+"/"+id(target.ID), in, &out)
	return out.JobID, err
}

// SyncJob returns a sync job record.
func (c *Client) SyncJob(ctx context.Context, jobID int64) (*models.SyncJob, error) {
	var j models.SyncJob
	if err := c.do(ctx, http.MethodGet, "/sync-job/"+id(jobID), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ReapStuckJobs fails stuck jobs of target and clears its lock.
func (c *Client) ReapStuckJobs(ctx context.Context, target models.Target) (*jobs.ReapReport, error) {
	var r jobs.ReapReport
	if err := c.do(ctx, http.MethodDelete, "/sync-job-lock/"+string(target.Kind)+"/"+id(target.ID), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// StartImport imports a JSON mapping list into a playlist.
func (c *Client) StartImport(ctx context.Context, playlistID int64, entries []models.MappingEntry) (int64, error) {
	if entries == nil {
		entries = []models.MappingEntry{}
	}
	var out jobCreated
	err := c.do(ctx, http.MethodPost, "/import/"+id(playlistID), entries, &out)
	return out.JobID, err
}

// StartCopy copies the mappings of sourceID onto playlistID.
func (c *Client) StartCopy(ctx context.Context, playlistID, sourceID int64) (int64, error) {
	var out jobCreated
	q := url.Values{"from": {id(sourceID)}}
	err := c.do(ctx, http.MethodPost, "/import/"+id(playlistID)+"/copy?"+q.Encode(), nil, &out)
	return out.JobID, err
}

// ImportJob returns an import job record.
func (c *Client) ImportJob(ctx context.Context, jobID int64) (*models.ImportJob, error) {
	var j models.ImportJob
	if err := c.do(ctx, http.MethodGet, "/import-job/"+id(jobID), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Playlists lists playlists.
func (c *Client) Playlists(ctx context.Context) ([]models.Playlist, error) {
	var out []models.Playlist
	err := c.do(ctx, http.MethodGet, "/playlists", nil, &out)
	return out, err
}

// WaitSyncJob polls a sync job until it is terminal and returns the final
// record. A failed job is returned with a nil error; check its Status.
func (c *Client) WaitSyncJob(ctx context.Context, jobID int64, interval time.Duration, maxAttempts int) (*models.SyncJob, error) {
	var last *models.SyncJob
	err := jobs.Poll(ctx, interval, maxAttempts, func(ctx context.Context) (bool, error) {
		j, err := c.SyncJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		last = j
		return j.Status.Terminal(), nil
	})
	return last, err
}

// WaitImportJob is WaitSyncJob for import jobs.
func (c *Client) WaitImportJob(ctx context.Context, jobID int64, interval time.Duration, maxAttempts int) (*models.ImportJob, error) {
	var last *models.ImportJob
	err := jobs.Poll(ctx, interval, maxAttempts, func(ctx context.Context) (bool, error) {
		j, err := c.ImportJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		last = j
		return j.Status.Terminal(), nil
	})
	return last, err
}
