package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/terrapool/pkg/api"
	"github.com/cuemby/terrapool/pkg/types"
)

const (
	defaultTimeout = 10 * time.Second

	// terminateTimeout covers a full terraform destroy
	terminateTimeout = 30 * time.Minute
)

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client wraps the terrapool HTTP API for easy CLI usage
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at addr, either host:port or a
// full http(s) URL
func NewClient(addr string) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", addr, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server address %q: unsupported scheme %s", addr, u.Scheme)
	}

	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    &http.Client{},
	}, nil
}

// Provision asks pool for excess executors matching label
func (c *Client) Provision(pool, label string, excess int) ([]api.PlannedAgent, error) {
	var resp api.ProvisionResponse
	err := c.do(http.MethodPost, "/v1/pools/"+url.PathEscape(pool)+"/provision", defaultTimeout,
		api.ProvisionRequest{Label: label, Excess: excess}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// ListAgents lists agents, optionally restricted to one pool
func (c *Client) ListAgents(pool string) ([]api.Agent, error) {
	path := "/v1/agents"
	if pool != "" {
		path += "?pool=" + url.QueryEscape(pool)
	}

	var resp api.ListAgentsResponse
	if err := c.do(http.MethodGet, path, defaultTimeout, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// GetAgent returns one agent
func (c *Client) GetAgent(name string) (*api.Agent, error) {
	var agent api.Agent
	if err := c.do(http.MethodGet, "/v1/agents/"+url.PathEscape(name), defaultTimeout, nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// TerminateAgent destroys an agent. It blocks until terraform destroy is done.
func (c *Client) TerminateAgent(name string) error {
	return c.do(http.MethodDelete, "/v1/agents/"+url.PathEscape(name), terminateTimeout, nil, nil)
}

// Connect performs the agent side of the connection handshake
func (c *Client) Connect(name, secret string) error {
	return c.do(http.MethodPost, "/v1/agents/"+url.PathEscape(name)+"/connect", defaultTimeout,
		api.ConnectRequest{Secret: secret}, nil)
}

// ReportActivity sends an agent heartbeat
func (c *Client) ReportActivity(name string, busy, completed bool) error {
	return c.do(http.MethodPost, "/v1/agents/"+url.PathEscape(name)+"/activity", defaultTimeout,
		api.ActivityRequest{Busy: busy, Completed: completed}, nil)
}

// AddCredential stores a credential on the server
func (c *Client) AddCredential(cred *types.Credential) error {
	return c.do(http.MethodPost, "/v1/credentials", defaultTimeout, api.Credential{
		ID:          cred.ID,
		Kind:        cred.Kind,
		Description: cred.Description,
		Username:    cred.Username,
		Password:    cred.Password,
		Secret:      cred.Secret,
	}, nil)
}

// ListCredentials lists stored credentials without their secrets
func (c *Client) ListCredentials() ([]api.Credential, error) {
	var resp api.ListCredentialsResponse
	if err := c.do(http.MethodGet, "/v1/credentials", defaultTimeout, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Credentials, nil
}

// RemoveCredential deletes a credential
func (c *Client) RemoveCredential(id string) error {
	return c.do(http.MethodDelete, "/v1/credentials/"+url.PathEscape(id), defaultTimeout, nil, nil)
}

// Ready reports whether the server is ready to serve
func (c *Client) Ready() error {
	return c.do(http.MethodGet, "/ready", defaultTimeout, nil, nil)
}

func (c *Client) do(method, path string, timeout time.Duration, in, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
