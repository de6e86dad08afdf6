package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/banshee-data/couple.report/internal/db"
	"github.com/banshee-data/couple.report/internal/httputil"
)

// Client calls a remote couples server.
type Client struct {
	BaseURL string
	HTTP    httputil.HTTPClient
}

// NewClient returns a client for baseURL. A nil hc uses http.DefaultClient.
func NewClient(baseURL string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if err := httputil.CheckResponse(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Detect uploads a trajectory CSV and returns the stored run. query carries
// optional threshold overrides and a source name.
func (c *Client) Detect(ctx context.Context, csv io.Reader, query url.Values) (*db.Run, error) {
	path := "/api/detect"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var run db.Run
	if err := c.getJSON(ctx, http.MethodPost, path, csv, "text/csv", &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns up to limit runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]*db.Run, error) {
	var runs []*db.Run
	path := "/api/runs?limit=" + strconv.Itoa(limit)
	if err := c.getJSON(ctx, http.MethodGet, path, nil, "", &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun fetches one run with its full result.
func (c *Client) GetRun(ctx context.Context, id string) (*db.Run, error) {
	var run db.Run
	if err := c.getJSON(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, "", &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// DeleteRun removes a run.
func (c *Client) DeleteRun(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/api/runs/"+url.PathEscape(id), nil, "")
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// ExportCSV copies the combined export of a run to w.
func (c *Client) ExportCSV(ctx context.Context, id string, w io.Writer) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id)+"/export.csv", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}
