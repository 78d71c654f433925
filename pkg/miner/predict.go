package miner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Predictor produces a forecast from a historical close-price series.
type Predictor interface {
	Predict(ctx context.Context, prices []float64, timestamp int64) ([]float64, error)
}

// HTTPPredictor calls an external prediction service.
type HTTPPredictor struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPPredictor creates a predictor client for the given service.
func NewHTTPPredictor(baseURL string, timeout time.Duration) *HTTPPredictor {
	return &HTTPPredictor{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// NewHTTPPredictorWithHTTP creates a predictor client with a custom
// HTTP client.
func NewHTTPPredictorWithHTTP(httpClient *http.Client, baseURL string) *HTTPPredictor {
	return &HTTPPredictor{httpClient: httpClient, baseURL: baseURL}
}

type predictRequest struct {
	Prices    []float64 `json:"prices"`
	Timestamp int64     `json:"timestamp"`
}

type predictResponse struct {
	Prices []float64 `json:"prices"`
}

// Predict posts the price series and returns the forecast series.
func (p *HTTPPredictor) Predict(ctx context.Context, prices []float64, timestamp int64) ([]float64, error) {
	body, err := json.Marshal(predictRequest{Prices: prices, Timestamp: timestamp})
	if err != nil {
		return nil, fmt.Errorf("encoding prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling prediction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("prediction service returned %d: %s", resp.StatusCode, raw)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding prediction response: %w", err)
	}
	if len(out.Prices) == 0 {
		return nil, fmt.Errorf("prediction service returned empty series")
	}
	return out.Prices, nil
}
