package trackhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/shiftline/bookingwatch/internal/integrations/bookingapi"
	"github.com/shiftline/bookingwatch/internal/models"
)

// Client talks to the booking platform's tracking endpoints over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	// streamc has no client-side timeout: the push channel stays open until
	// the context is cancelled or the server goes away.
	streamc *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
		streamc: &http.Client{},
	}
}

func (c *Client) Lookup(ctx context.Context, creds models.TrackingCredentials) (*models.BookingSnapshot, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/api/track"

	q := u.Query()
	q.Set("code", creds.TrackingCode)
	q.Set("email", creds.Email)
	q.Set("registration", creds.Registration)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	c.auth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, bookingapi.ErrNotFound
	case resp.StatusCode == http.StatusGone:
		return nil, bookingapi.ErrExpired
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("booking lookup http %d", resp.StatusCode)
	}

	var snap models.BookingSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	if snap.DisplayProgress < snap.Progress {
		snap.DisplayProgress = snap.Progress
	}
	return &snap, nil
}

func (c *Client) ConfirmPayment(ctx context.Context, bookingID string) (*models.BookingSnapshot, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/api/bookings/" + url.PathEscape(bookingID) + "/payment/confirm"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	c.auth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("payment confirm http %d", resp.StatusCode)
	}

	var snap models.BookingSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	if snap.DisplayProgress < snap.Progress {
		snap.DisplayProgress = snap.Progress
	}
	return &snap, nil
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
