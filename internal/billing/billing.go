package billing

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coveworks/memberd/config"
)

var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrProcessor          = errors.New("payment processor error")
)

// Snapshot is the processor's view of one subscriber at a point in time.
type Snapshot struct {
	CustomerID        int64
	Active            bool
	ReadyToRenew      bool
	ReadyToRenewSince *time.Time
	Token             string
	FeatureLevel      string
	Email             string
}

// Client talks to the subscription processor's XML API. Calls time out after
// ten seconds and are never retried here; retry scheduling belongs to the
// task queue.
type Client struct {
	cfg    *config.BillingConfig
	apiKey string
	http   *http.Client
}

func NewClient(cfg *config.BillingConfig, apiKey string) *Client {
	return &Client{
		cfg:    cfg,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient swaps the underlying HTTP client. Tests point it at a local
// server.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

type subscriberXML struct {
	CustomerID        string `xml:"customer-id"`
	Active            string `xml:"active"`
	ReadyToRenew      string `xml:"ready-to-renew"`
	ReadyToRenewSince string `xml:"ready-to-renew-since"`
	Token             string `xml:"token"`
	FeatureLevel      string `xml:"feature-level"`
	Email             string `xml:"email"`
}

// SubscriberDetails fetches the current snapshot for a customer.
func (c *Client) SubscriberDetails(ctx context.Context, customerID int64) (*Snapshot, error) {
	endpoint := fmt.Sprintf("%s/%s/subscribers/%d.xml", c.cfg.APIBase, c.cfg.Account, customerID)
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var sub subscriberXML
	if err := xml.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("%w: bad subscriber payload: %v", ErrProcessor, err)
	}

	snapshot := &Snapshot{
		CustomerID:   customerID,
		Active:       sub.Active == "true",
		ReadyToRenew: sub.ReadyToRenew == "true",
		Token:        sub.Token,
		FeatureLevel: sub.FeatureLevel,
		Email:        strings.TrimSpace(sub.Email),
	}
	if sub.ReadyToRenewSince != "" {
		ts, err := time.Parse(time.RFC3339, sub.ReadyToRenewSince)
		if err != nil {
			return nil, fmt.Errorf("%w: bad ready-to-renew-since: %v", ErrProcessor, err)
		}
		snapshot.ReadyToRenewSince = &ts
	}
	return snapshot, nil
}

type createSubscriberXML struct {
	XMLName    xml.Name `xml:"subscriber"`
	CustomerID int64    `xml:"customer-id"`
	Email      string   `xml:"email"`
}

// CreateSubscriber registers a customer with the processor before their
// first payment.
func (c *Client) CreateSubscriber(ctx context.Context, customerID int64, email string) error {
	endpoint := fmt.Sprintf("%s/%s/subscribers.xml", c.cfg.APIBase, c.cfg.Account)
	payload, err := xml.Marshal(createSubscriberXML{CustomerID: customerID, Email: email})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, endpoint, payload)
	return err
}

type creditXML struct {
	XMLName xml.Name `xml:"credit"`
	Amount  string   `xml:"amount"`
}

// AddCredit puts a one-time credit on the customer's account.
func (c *Client) AddCredit(ctx context.Context, customerID int64, amount float64) error {
	endpoint := fmt.Sprintf("%s/%s/subscribers/%d/credits.xml", c.cfg.APIBase, c.cfg.Account, customerID)
	payload, err := xml.Marshal(creditXML{Amount: fmt.Sprintf("%.2f", amount)})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, endpoint, payload)
	return err
}

// SubscribeURL builds the hosted payment-page URL for a customer and plan.
// The processor token segment is included when known, which skips the
// card-reentry step on renewals.
func (c *Client) SubscribeURL(customerID int64, token, planID, username string, query url.Values) string {
	var path string
	if token != "" {
		path = fmt.Sprintf("%s/%s/subscribers/%d/%s/subscribe/%s/%s",
			c.cfg.SubscribeBase, c.cfg.Account, customerID, token, planID, url.PathEscape(username))
	} else {
		path = fmt.Sprintf("%s/%s/subscribers/%d/subscribe/%s/%s",
			c.cfg.SubscribeBase, c.cfg.Account, customerID, planID, url.PathEscape(username))
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return path
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.apiKey, "X")
	if payload != nil {
		req.Header.Set("Content-Type", "application/xml")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessor, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessor, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrSubscriberNotFound
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrProcessor, resp.StatusCode)
	}
	return body, nil
}
