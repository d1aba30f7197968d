// Package authclient delegates token checks to the identity service, which
// owns the signing secret and the blacklist.
package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/you/mediqueue/services/appointment-service/internal/domain"
)

type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
}

type Client struct {
	verifyURL string
	http      *http.Client
}

func New(verifyURL string) *Client {
	return &Client{
		verifyURL: verifyURL,
		http:      &http.Client{Timeout: 5 * time.Second},
	}
}

// Verify forwards the bearer header as received. A non-2xx response surfaces
// the identity service's stated reason wrapped in ErrUnauthorized; a transport
// failure stays a plain error so callers can tell "untrusted token" apart
// from "verifier unreachable".
func (c *Client) Verify(ctx context.Context, bearer string) (*Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.verifyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrUnauthorized, body.Error)
	}

	var out struct {
		Claims Claims `json:"claims"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	return &out.Claims, nil
}
