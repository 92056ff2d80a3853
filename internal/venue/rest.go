package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// restClient is the shared HTTP plumbing for the hand-rolled venue
// adapters. A transport-level token bucket guards each venue's client so
// that even a misbehaving caller cannot burst past the venue's hard
// request ceiling; the per-operation spacing limiter in internal/safety
// sits above this.
type restClient struct {
	venueID string
	baseURL string
	client  *http.Client
	guard   *rate.Limiter
	auth    func(req *http.Request, body []byte) error
}

func newRESTClient(venueID, baseURL string, maxRequestsPerSecond float64, auth func(*http.Request, []byte) error) *restClient {
	return &restClient{
		venueID: venueID,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		guard:   rate.NewLimiter(rate.Limit(maxRequestsPerSecond), 2),
		auth:    auth,
	}
}

// doJSON executes one request against the venue and decodes the JSON
// response into out (which may be nil). Non-2xx statuses come back as
// classified VenueErrors.
func (c *restClient) doJSON(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if err := c.guard.Wait(ctx); err != nil {
		return Classify(c.venueID, err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload []byte
	var reader io.Reader
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return NewVenueError(c.venueID, KindPermanent, fmt.Sprintf("encode request: %v", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return NewVenueError(c.venueID, KindPermanent, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.auth != nil {
		if err := c.auth(req, payload); err != nil {
			return NewVenueError(c.venueID, KindPermanent, fmt.Sprintf("sign request: %v", err))
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Classify(c.venueID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Classify(c.venueID, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ClassifyHTTP(c.venueID, resp.StatusCode, truncate(string(data), 256))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return NewVenueError(c.venueID, KindPermanent, fmt.Sprintf("decode response: %v", err))
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
