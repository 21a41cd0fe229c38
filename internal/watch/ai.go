package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// Notifier tells AI providers to reload after relevant source changes.
type Notifier interface {
	Notify(ctx context.Context, files []string) error
}

// AINotifier posts reload requests to the backend's AI reload endpoint.
// Requests beyond the rate limit are dropped rather than queued.
type AINotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewAINotifier creates a notifier allowing one reload per interval with a small burst.
func NewAINotifier(url string, timeout, interval time.Duration) *AINotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &AINotifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(interval), 2),
	}
}

type reloadRequest struct {
	Files []string  `json:"files"`
	Time  time.Time `json:"timestamp"`
}

func (n *AINotifier) Notify(ctx context.Context, files []string) error {
	if !n.limiter.Allow() {
		return errors.New("AI reload rate limit exceeded")
	}

	body, err := json.Marshal(reloadRequest{Files: files, Time: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, "failed to encode reload request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "invalid AI reload URL %q", n.url)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "AI reload request failed")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Newf("AI reload endpoint returned %s", resp.Status)
	}
	return nil
}
