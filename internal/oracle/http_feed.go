package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPFeed fetches readings from a Pyth-style price service over HTTP.
// The endpoint is expected to expose GET {base}/latest?feed={id} returning
// a JSON body with price, confidence, publish_time, and num_publishers.
type HTTPFeed struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPFeed creates a feed client for the given price service.
func NewHTTPFeed(baseURL, apiKey string) *HTTPFeed {
	return &HTTPFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// feedResponse is the wire shape of the price service response. Price and
// confidence arrive as strings to preserve precision across the JSON
// boundary.
type feedResponse struct {
	Price         string `json:"price"`
	Confidence    string `json:"confidence"`
	PublishTime   int64  `json:"publish_time"`
	NumPublishers int    `json:"num_publishers"`
}

// Latest fetches the most recent reading for feedID.
func (f *HTTPFeed) Latest(ctx context.Context, feedID string) (Reading, error) {
	endpoint := fmt.Sprintf("%s/latest?feed=%s", f.baseURL, url.QueryEscape(feedID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Reading{}, fmt.Errorf("oracle: build request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("oracle: fetch feed %s: %w", feedID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Reading{}, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Reading{}, fmt.Errorf("oracle: feed %s returned HTTP %d: %s",
			feedID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw feedResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Reading{}, fmt.Errorf("oracle: decode response: %w", err)
	}

	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return Reading{}, fmt.Errorf("oracle: parse price %q: %w", raw.Price, err)
	}
	conf, err := decimal.NewFromString(raw.Confidence)
	if err != nil {
		return Reading{}, fmt.Errorf("oracle: parse confidence %q: %w", raw.Confidence, err)
	}

	responses := raw.NumPublishers
	if responses == 0 {
		responses = 1
	}

	return Reading{
		Price:       price,
		Confidence:  conf,
		PublishTime: time.Unix(raw.PublishTime, 0),
		Responses:   responses,
	}, nil
}
