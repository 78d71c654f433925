package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotRegistered is returned when the calling key is not a
// registered peer of the subnet. Discovery fails fatally on it.
var ErrNotRegistered = errors.New("key is not registered in subnet")

// Client is the shared ledger: peer registry reads and weight
// submission. Implementations authenticate with the caller's own
// identity key.
type Client interface {
	ResolvePeerAddresses(ctx context.Context, subnetID int) (map[int]string, error)
	ResolvePeerIdentities(ctx context.Context, subnetID int) (map[int]string, error)
	SubmitWeights(ctx context.Context, subnetID int, weights map[int]int) error
}

// HTTPClient talks to a ledger gateway over its JSON API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	identity   string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a ledger client authenticated as identity.
func NewHTTPClient(baseURL, identity string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		identity:   identity,
	}
}

// NewHTTPClientWithHTTP creates a ledger client with a custom HTTP
// client, used by tests.
func NewHTTPClientWithHTTP(httpClient *http.Client, baseURL, identity string) *HTTPClient {
	return &HTTPClient{httpClient: httpClient, baseURL: baseURL, identity: identity}
}

func (c *HTTPClient) ResolvePeerAddresses(ctx context.Context, subnetID int) (map[int]string, error) {
	var addresses map[int]string
	path := fmt.Sprintf("/v1/subnets/%d/addresses", subnetID)
	if err := c.get(ctx, path, &addresses); err != nil {
		return nil, fmt.Errorf("resolving peer addresses: %w", err)
	}
	return addresses, nil
}

func (c *HTTPClient) ResolvePeerIdentities(ctx context.Context, subnetID int) (map[int]string, error) {
	var identities map[int]string
	path := fmt.Sprintf("/v1/subnets/%d/keys", subnetID)
	if err := c.get(ctx, path, &identities); err != nil {
		return nil, fmt.Errorf("resolving peer identities: %w", err)
	}
	return identities, nil
}

type weightSubmission struct {
	Identity string      `json:"identity"`
	Weights  map[int]int `json:"weights"`
}

func (c *HTTPClient) SubmitWeights(ctx context.Context, subnetID int, weights map[int]int) error {
	body, err := json.Marshal(weightSubmission{Identity: c.identity, Weights: weights})
	if err != nil {
		return fmt.Errorf("encoding weight submission: %w", err)
	}

	path := fmt.Sprintf("%s/v1/subnets/%d/weights", c.baseURL, subnetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ledger-Identity", c.identity)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		return nil
	case http.StatusForbidden:
		return ErrNotRegistered
	default:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Ledger-Identity", c.identity)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return ErrNotRegistered
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
