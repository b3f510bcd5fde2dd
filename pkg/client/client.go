// Package client talks to a running tradesim API server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gregtusar/tradesim/pkg/models"
)

type Client interface {
	PlaceTrade(ctx context.Context, req TradeRequest) (*models.Position, error)
	Trades(ctx context.Context) ([]models.Position, error)
	Account(ctx context.Context) (*models.Snapshot, error)
}

type TradeRequest struct {
	AssetID           string           `json:"asset_id"`
	Direction         models.Direction `json:"direction"`
	Stake             *decimal.Decimal `json:"stake,omitempty"`
	ExpirationSeconds int              `json:"expiration_seconds,omitempty"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Client = (*RESTClient)(nil)

func NewRESTClient(baseURL string) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *RESTClient) PlaceTrade(ctx context.Context, req TradeRequest) (*models.Position, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode trade request: %w", err)
	}

	var position models.Position
	if err := c.do(ctx, http.MethodPost, "/api/trades", body, &position); err != nil {
		return nil, err
	}
	return &position, nil
}

func (c *RESTClient) Trades(ctx context.Context) ([]models.Position, error) {
	var positions []models.Position
	if err := c.do(ctx, http.MethodGet, "/api/trades", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (c *RESTClient) Account(ctx context.Context) (*models.Snapshot, error) {
	var snapshot models.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/account", nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
