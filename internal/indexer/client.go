// Package indexer fetches enriched transactions from the external indexer's
// REST API.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rawblock/flywheel-engine/pkg/models"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FetchEnrichedTransactions returns up to limit enriched transactions for an
// address, newest first. Pass before to page further back in history.
func (c *Client) FetchEnrichedTransactions(ctx context.Context, address string, limit int, before string) ([]models.EnrichedTx, error) {
	q := url.Values{}
	q.Set("api-key", c.apiKey)
	q.Set("limit", fmt.Sprintf("%d", limit))
	if before != "" {
		q.Set("before", before)
	}
	endpoint := fmt.Sprintf("%s/v0/addresses/%s/transactions?%s", c.baseURL, url.PathEscape(address), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("indexer: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexer: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("indexer: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("indexer: http %d: %s", resp.StatusCode, snippet(body))
	}

	var txs []models.EnrichedTx
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, fmt.Errorf("indexer: unmarshal: %w", err)
	}
	return txs, nil
}

func snippet(body []byte) string {
	if len(body) > 200 {
		return string(body[:200]) + "..."
	}
	return string(body)
}
