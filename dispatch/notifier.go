package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/energum/leadwatch/lead"
)

// ErrNotification marks a delivery failure. Recoverable per lead: the
// pipeline logs it and moves on, leaving the key out of the seen set so
// the next run retries.
var ErrNotification = errors.New("notification failed")

// Sink delivers one lead to its destination.
type Sink interface {
	Send(ctx context.Context, l lead.Lead) error
}

// Notifier posts leads as JSON to a webhook URL.
type Notifier struct {
	url    string
	client *http.Client
}

// NewNotifier returns a webhook sink. Fails when url is empty so a
// misconfigured deployment is caught at startup, not at first lead.
func NewNotifier(url string) (*Notifier, error) {
	if url == "" {
		return nil, errors.New("dispatch: webhook URL is not configured")
	}
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Send posts the lead. Any transport error or non-2xx response wraps
// ErrNotification. No retry here; redelivery belongs to the next run.
func (n *Notifier) Send(ctx context.Context, l lead.Lead) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("%w: marshal lead %s: %v", ErrNotification, l.Key, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrNotification, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: post lead %s: %v", ErrNotification, l.Key, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: lead %s: webhook returned %d", ErrNotification, l.Key, resp.StatusCode)
	}
	return nil
}
