// Package revolut предоставляет клиент Revolut Business API для чтения транзакций.
package revolut

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrTransactionNotFound возвращается, если Revolut не знает транзакцию.
var ErrTransactionNotFound = errors.New("revolut transaction not found")

// Client инкапсулирует HTTP-взаимодействие с Revolut Business API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Counterparty описывает контрагента транзакции.
type Counterparty struct {
	ID          string `json:"id"`
	AccountType string `json:"account_type"`
	AccountID   string `json:"account_id"`
	Name        string `json:"name"`
}

// Leg описывает движение средств по одному счёту внутри транзакции.
type Leg struct {
	LegID        string          `json:"leg_id"`
	AccountID    string          `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Description  string          `json:"description"`
	Counterparty *Counterparty   `json:"counterparty,omitempty"`
}

// Transaction описывает транзакцию Revolut Business.
type Transaction struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	State       string     `json:"state"`
	RequestID   string     `json:"request_id"`
	Reference   string     `json:"reference"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Legs        []Leg      `json:"legs"`
}

// NewClient создаёт клиент Revolut Business API с указанным адресом и токеном доступа.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (c *Client) base() (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("revolut client not configured")
	}
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return base, nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// ListTransactions запрашивает транзакции начиная с from. Возвращает также код ответа
// и значение Retry-After для ответа 429.
func (c *Client) ListTransactions(ctx context.Context, from time.Time, count int) ([]Transaction, int, time.Duration, error) {
	base, err := c.base()
	if err != nil {
		return nil, 0, 0, err
	}

	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("count", strconv.Itoa(count))

	req, err := c.newRequest(ctx, base+"/transactions?"+q.Encode())
	if err != nil {
		return nil, 0, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")), nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result []Transaction
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("decode response: %w", err)
	}

	return result, resp.StatusCode, 0, nil
}

// GetTransaction запрашивает одну транзакцию по идентификатору.
func (c *Client) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	base, err := c.base()
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, base+"/transaction/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTransactionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result Transaction
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// CreditLeg возвращает первую входящую (положительную) ногу транзакции.
func (t Transaction) CreditLeg() (Leg, bool) {
	for _, leg := range t.Legs {
		if leg.Amount.IsPositive() {
			return leg, true
		}
	}
	return Leg{}, false
}
