package trackhttp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/shiftline/bookingwatch/internal/integrations/bookingapi"
	"github.com/shiftline/bookingwatch/internal/models"
)

// OpenStream opens the per-booking SSE channel. Frames arrive as
// "event: <type>" / "data: <json>" pairs separated by a blank line.
func (c *Client) OpenStream(ctx context.Context, bookingID string, creds models.TrackingCredentials) (bookingapi.Stream, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/api/bookings/" + url.PathEscape(bookingID) + "/stream"

	q := u.Query()
	q.Set("code", creds.TrackingCode)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.auth(req)

	resp, err := c.streamc.Do(req)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "open stream")
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream http %d", resp.StatusCode)
	}

	return &sseStream{
		body:   resp.Body,
		sc:     bufio.NewScanner(resp.Body),
		cancel: cancel,
	}, nil
}

type sseStream struct {
	body   io.ReadCloser
	sc     *bufio.Scanner
	cancel context.CancelFunc
}

func (s *sseStream) Next() (bookingapi.Event, error) {
	var eventType string
	var data strings.Builder

	for s.sc.Scan() {
		line := s.sc.Text()
		switch {
		case line == "":
			// End of frame.
			if eventType == "" && data.Len() == 0 {
				continue
			}
			return buildEvent(eventType, data.String())
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// Comment line, skip.
		}
	}
	if err := s.sc.Err(); err != nil {
		return bookingapi.Event{}, errors.Wrap(err, "read stream")
	}
	return bookingapi.Event{}, io.EOF
}

func buildEvent(eventType, data string) (bookingapi.Event, error) {
	if eventType == "" {
		eventType = bookingapi.EventUpdate
	}
	ev := bookingapi.Event{Type: eventType}
	if eventType == bookingapi.EventUpdate {
		var d models.Delta
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return bookingapi.Event{}, errors.Wrap(err, "decode update frame")
		}
		ev.Delta = &d
	}
	return ev, nil
}

func (s *sseStream) Close() error {
	s.cancel()
	return s.body.Close()
}
