// Package exchange implements the venue's REST and WebSocket clients.
//
// The REST client (Client) covers everything the engine needs from the venue:
//
//	GetRestingOrders     GET    /markets/{id}/orders  resting book of one market
//	PlaceOrders          POST   /markets/{id}/orders  batch-place planned orders
//	CancelAllOrders      DELETE /markets/{id}/orders  cancel the bot's orders in one market
//	GetEffectiveBalance  GET    /account/balance      balance + refund of open orders
//	GetExposure          GET    /account/exposure     worst-case loss of held/offered positions
//	GetScore             GET    /markets/{id}/score   likelihood score of one market
//	ListMarkets          GET    /markets              active markets and their scores
//
// Every request is rate-limited per endpoint category, retried on 5xx errors,
// and signed with the API-key HMAC headers. In dry-run mode the mutating
// calls log and return fake success without touching the venue.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"liquidity-mm/internal/config"
	"liquidity-mm/pkg/types"
)

// Client is the venue REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type Client struct {
	http      *resty.Client
	auth      *Auth
	rl        *RateLimiter
	batchSize int
	dryRun    bool
	logger    *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.ExchangeConfig, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	batch := cfg.PlaceBatchSize
	if batch < 1 {
		batch = 15
	}

	return &Client{
		http:      httpClient,
		auth:      auth,
		rl:        NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		batchSize: batch,
		dryRun:    cfg.DryRun,
		logger:    logger.With("component", "exchange"),
	}
}

type restingOrdersResponse struct {
	Orders    []types.RestingOrder `json:"orders"`
	Timestamp int64                `json:"timestamp"` // unix millis
}

// GetRestingOrders fetches the resting orders of one market.
func (c *Client) GetRestingOrders(ctx context.Context, marketID string) (types.BookSnapshot, error) {
	var result restingOrdersResponse
	if err := c.get(ctx, marketPath(marketID, "orders"), &result); err != nil {
		return types.BookSnapshot{}, fmt.Errorf("get resting orders: %w", err)
	}

	ts := time.Now().UTC()
	if result.Timestamp > 0 {
		ts = time.UnixMilli(result.Timestamp).UTC()
	}
	return types.BookSnapshot{MarketID: marketID, Orders: result.Orders, Timestamp: ts}, nil
}

type orderRequest struct {
	Side   types.Side `json:"side"`
	Price  int        `json:"price"`
	Amount int64      `json:"amount"`
}

// PlaceOrders places orders in batches of PlaceBatchSize. Results of all
// batches are merged. A failing batch aborts the rest; the returned result
// still lists what was placed before the failure.
func (c *Client) PlaceOrders(ctx context.Context, marketID string, orders []types.Order) (types.PlaceResult, error) {
	var total types.PlaceResult
	if len(orders) == 0 {
		return total, nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place orders", "market", marketID, "count", len(orders))
		for i := range orders {
			total.OrderIDs = append(total.OrderIDs, fmt.Sprintf("dry-run-%s-%d", marketID, i))
		}
		return total, nil
	}

	path := marketPath(marketID, "orders")
	for start := 0; start < len(orders); start += c.batchSize {
		end := min(start+c.batchSize, len(orders))

		batch := make([]orderRequest, 0, end-start)
		for _, o := range orders[start:end] {
			batch = append(batch, orderRequest{Side: o.Side, Price: o.Price, Amount: o.Amount})
		}
		payload := struct {
			Orders []orderRequest `json:"orders"`
		}{Orders: batch}

		if err := wait(ctx, c.rl.Order); err != nil {
			return total, err
		}
		var result types.PlaceResult
		if err := c.send(ctx, http.MethodPost, path, payload, &result); err != nil {
			return total, fmt.Errorf("place orders: %w", err)
		}
		total.OrderIDs = append(total.OrderIDs, result.OrderIDs...)
		total.Rejected += result.Rejected
	}

	c.logger.Info("orders placed", "market", marketID, "placed", len(total.OrderIDs), "rejected", total.Rejected)
	return total, nil
}

// CancelAllOrders cancels every order the bot has in one market.
func (c *Client) CancelAllOrders(ctx context.Context, marketID string) (types.CancelResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel market orders", "market", marketID)
		return types.CancelResult{}, nil
	}
	if err := wait(ctx, c.rl.Cancel); err != nil {
		return types.CancelResult{}, err
	}

	var result types.CancelResult
	if err := c.send(ctx, http.MethodDelete, marketPath(marketID, "orders"), nil, &result); err != nil {
		return types.CancelResult{}, fmt.Errorf("cancel orders: %w", err)
	}
	c.logger.Info("orders cancelled", "market", marketID, "count", result.CancelledCount, "refund", result.Refund)
	return result, nil
}

// GetEffectiveBalance returns the spendable balance and the refund that
// cancelling the bot's open orders would release.
func (c *Client) GetEffectiveBalance(ctx context.Context) (types.Balance, error) {
	var result types.Balance
	if err := c.get(ctx, "/account/balance", &result); err != nil {
		return types.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return result, nil
}

// GetExposure returns the worst-case loss of held and offered positions.
func (c *Client) GetExposure(ctx context.Context) (int64, error) {
	var result struct {
		Exposure int64 `json:"exposure"`
	}
	if err := c.get(ctx, "/account/exposure", &result); err != nil {
		return 0, fmt.Errorf("get exposure: %w", err)
	}
	return result.Exposure, nil
}

// GetScore returns the likelihood score of one market.
func (c *Client) GetScore(ctx context.Context, marketID string) (float64, error) {
	var result struct {
		Score float64 `json:"score"`
	}
	if err := c.get(ctx, marketPath(marketID, "score"), &result); err != nil {
		return 0, fmt.Errorf("get score: %w", err)
	}
	return result.Score, nil
}

// MarketInfo is one entry of the active market listing.
type MarketInfo struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Score    float64   `json:"score"`
	Active   bool      `json:"active"`
	Closed   bool      `json:"closed"`
	EndDate  time.Time `json:"end_date"`
}

// ListMarkets returns one page of active markets.
func (c *Client) ListMarkets(ctx context.Context, limit, offset int) ([]MarketInfo, error) {
	if err := wait(ctx, c.rl.Read); err != nil {
		return nil, err
	}

	var result []MarketInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"active": "true",
			"closed": "false",
			"limit":  fmt.Sprintf("%d", limit),
			"offset": fmt.Sprintf("%d", offset),
		}).
		SetResult(&result).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("list markets: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := wait(ctx, c.rl.Read); err != nil {
		return err
	}
	headers, err := c.auth.Headers(http.MethodGet, path, "")
	if err != nil {
		return fmt.Errorf("auth headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(out).
		Get(path)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload, out any) error {
	var body string
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = string(raw)
	}
	headers, err := c.auth.Headers(method, path, body)
	if err != nil {
		return fmt.Errorf("auth headers: %w", err)
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(out)
	if body != "" {
		req.SetBody(json.RawMessage(body))
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func marketPath(marketID, suffix string) string {
	return "/markets/" + url.PathEscape(marketID) + "/" + suffix
}
