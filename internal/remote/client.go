// Package remote talks to the competence tree backend: fetching trees,
// marking nodes complete, and supplying the access token those calls need.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/philbeliveau/Orientor-Platform-Clean-sub000/internal/tree"
)

// DefaultServer is used when no server is configured.
const DefaultServer = "http://localhost:8000"

var (
	ErrNotFound     = errors.New("tree not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrMalformed    = errors.New("malformed tree payload")
)

// Client communicates with the backend API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the given server base URL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultServer
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CompleteResponse is returned after marking a node complete.
type CompleteResponse struct {
	NodeID   string `json:"node_id"`
	State    string `json:"state"`
	XPEarned int    `json:"xp_earned,omitempty"`
}

// FetchTree retrieves a tree's nodes and edges. The payload is returned
// as sent; callers sanitise it.
func (c *Client) FetchTree(ctx context.Context, treeID, token string) (*tree.Data, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/trees/"+url.PathEscape(treeID), token)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp, "tree "+treeID)
	}

	var data tree.Data
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if data.TreeID == "" {
		data.TreeID = treeID
	}
	if data.TreeID != treeID {
		return nil, fmt.Errorf("%w: asked for tree %s, got %s", ErrMalformed, treeID, data.TreeID)
	}
	return &data, nil
}

// CompleteNode marks a node's lifecycle state as completed.
func (c *Client) CompleteNode(ctx context.Context, nodeID, token string) (*CompleteResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/nodes/"+url.PathEscape(nodeID)+"/complete", token)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, parseError(resp, "node "+nodeID)
	}

	result := CompleteResponse{NodeID: nodeID, State: "completed"}
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
	}
	return &result, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func parseError(resp *http.Response, what string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp struct {
		Error  string `json:"error"`
		Detail string `json:"detail,omitempty"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Error != "" {
			msg = errResp.Error
		} else if errResp.Detail != "" {
			msg = errResp.Detail
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", what, ErrUnauthorized, msg)
	}
	return fmt.Errorf("server error: %d %s", resp.StatusCode, msg)
}
