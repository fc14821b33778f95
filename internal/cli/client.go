package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bartab/internal/economy"
	"bartab/internal/market"
)

// APIError is a non-2xx answer from the API. Anything else returned by the
// client is a transport failure and can be queued for a later sync.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server rather than the
// network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

type TransferResult struct {
	Success  bool  `json:"success"`
	Credited int64 `json:"credited"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func accountPath(id int64, suffix string) string {
	return "/v1/accounts/" + strconv.FormatInt(id, 10) + suffix
}

func (c *Client) Account(ctx context.Context, token string, id int64) (economy.Account, error) {
	var out economy.Account
	err := c.jsonRequest(ctx, http.MethodGet, accountPath(id, ""), token, nil, &out, "")
	return out, err
}

func (c *Client) Transfer(ctx context.Context, token string, from, to, amount int64, idem string) (TransferResult, error) {
	var out TransferResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/transfers", token, map[string]any{
		"from":   from,
		"to":     to,
		"amount": amount,
	}, &out, idem)
	return out, err
}

func (c *Client) Daily(ctx context.Context, token string, id int64) (economy.DailyResult, error) {
	var out economy.DailyResult
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(id, "/daily"), token, nil, &out, "")
	return out, err
}

func (c *Client) Work(ctx context.Context, token string, id int64) (economy.WorkResult, error) {
	var out economy.WorkResult
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(id, "/work"), token, nil, &out, "")
	return out, err
}

func (c *Client) Deposit(ctx context.Context, token string, id, amount int64, idem string) (economy.MoveResult, error) {
	var out economy.MoveResult
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(id, "/deposit"), token, map[string]any{"amount": amount}, &out, idem)
	return out, err
}

func (c *Client) Withdraw(ctx context.Context, token string, id, amount int64, idem string) (economy.MoveResult, error) {
	var out economy.MoveResult
	err := c.jsonRequest(ctx, http.MethodPost, accountPath(id, "/withdraw"), token, map[string]any{"amount": amount}, &out, idem)
	return out, err
}

func (c *Client) Shop(ctx context.Context, token string) ([]economy.ShopItem, error) {
	var out struct {
		Items []economy.ShopItem `json:"items"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/shop", token, nil, &out, "")
	return out.Items, err
}

func (c *Client) BuyItem(ctx context.Context, token string, id int64, itemID int, idem string) (economy.PurchaseResult, error) {
	var out economy.PurchaseResult
	path := accountPath(id, "/shop/"+strconv.Itoa(itemID))
	err := c.jsonRequest(ctx, http.MethodPost, path, token, nil, &out, idem)
	return out, err
}

func (c *Client) Give(ctx context.Context, token string, id, amount int64, idem string) (economy.BalanceResult, error) {
	var out economy.BalanceResult
	path := "/v1/admin/accounts/" + strconv.FormatInt(id, 10) + "/give"
	err := c.jsonRequest(ctx, http.MethodPost, path, token, map[string]any{"amount": amount}, &out, idem)
	return out, err
}

func (c *Client) Reset(ctx context.Context, token string, id int64) (economy.Account, error) {
	var out economy.Account
	path := "/v1/admin/accounts/" + strconv.FormatInt(id, 10) + "/reset"
	err := c.jsonRequest(ctx, http.MethodPost, path, token, nil, &out, "")
	return out, err
}

func (c *Client) Stats(ctx context.Context, token string) (economy.Stats, error) {
	var out economy.Stats
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/stats", token, nil, &out, "")
	return out, err
}

func (c *Client) MarketStatus(ctx context.Context, token string) (market.Status, error) {
	var out market.Status
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market", token, nil, &out, "")
	return out, err
}

func (c *Client) Movers(ctx context.Context, token string, n int) ([]market.Mover, error) {
	var out struct {
		Movers []market.Mover `json:"movers"`
	}
	path := "/v1/market/movers?" + url.Values{"n": {strconv.Itoa(n)}}.Encode()
	err := c.jsonRequest(ctx, http.MethodGet, path, token, nil, &out, "")
	return out.Movers, err
}

func (c *Client) ForceNews(ctx context.Context, token string) ([]market.NewsEvent, error) {
	var out struct {
		News []market.NewsEvent `json:"news"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/market/news", token, nil, &out, "")
	return out.News, err
}

func (c *Client) Trade(ctx context.Context, token string, req market.TradeRequest, idem string) (market.TradeResult, error) {
	var out market.TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/market/trades", token, req, &out, idem)
	return out, err
}

// Do sends an arbitrary request. The sync command replays queued commands
// through it.
func (c *Client) Do(ctx context.Context, method, path, token string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, token, in, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, token string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
