package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coveworks/memberd/config"
)

// Client talks to the workspace directory application, which owns the actual
// user accounts and the door controller.
type Client struct {
	cfg    *config.DirectoryConfig
	secret string
	http   *http.Client
}

func NewClient(cfg *config.DirectoryConfig, secret string) *Client {
	return &Client{
		cfg:    cfg,
		secret: secret,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// CreateUser provisions a directory account. Unlike the suspend and restore
// calls this one matters; the caller retries it through the task queue.
func (c *Client) CreateUser(ctx context.Context, username, password, firstName, lastName string) error {
	form := url.Values{
		"username":   {username},
		"password":   {password},
		"first_name": {firstName},
		"last_name":  {lastName},
		"secret":     {c.secret},
	}
	return c.post(ctx, fmt.Sprintf("http://%s/users", c.cfg.Host), form)
}

// Suspend disables the directory account and door access.
func (c *Client) Suspend(ctx context.Context, username string) error {
	form := url.Values{"secret": {c.secret}}
	return c.post(ctx, fmt.Sprintf("http://%s/suspend/%s", c.cfg.Host, url.PathEscape(username)), form)
}

// Restore re-enables the directory account and door access.
func (c *Client) Restore(ctx context.Context, username string) error {
	form := url.Values{"secret": {c.secret}}
	return c.post(ctx, fmt.Sprintf("http://%s/restore/%s", c.cfg.Host, url.PathEscape(username)), form)
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("directory: %s returned status %d", endpoint, resp.StatusCode)
	}
	return nil
}
