package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"tradeflow/config"
	"tradeflow/logger"
	"tradeflow/models"
)

// Order is the payload submitted to the broker when a live strategy opens a
// position.
type Order struct {
	Symbol          string `json:"symbol"`
	TransactionType string `json:"transaction_type"`
	Quantity        int    `json:"quantity"`
	OrderType       string `json:"order_type"`
	ProductType     string `json:"product_type"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"order_status"`
}

// Client places orders against the broker's REST API. Calls are rate
// limited; the broker rejects bursts hard.
type Client struct {
	config  *config.Config
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Entry
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Broker.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.Broker.RequestsPerSecond), cfg.Broker.Burst),
		log:     logger.GetLogger().WithComponent("broker"),
	}
}

// OrderFor translates a freshly opened position into its market order.
func OrderFor(pos models.Position) Order {
	side := "BUY"
	if pos.Type == models.TradeShort {
		side = "SELL"
	}
	return Order{
		Symbol:          pos.Symbol,
		TransactionType: side,
		Quantity:        pos.Quantity,
		OrderType:       "MARKET",
		ProductType:     "INTRADAY",
	}
}

// PlaceOrder submits one order and returns the broker-assigned identifier.
func (c *Client) PlaceOrder(ctx context.Context, order Order) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	payload, err := json.Marshal(order)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Broker.URL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.Broker.AccessToken)
	req.Header.Set("Client-Id", c.config.Broker.ClientID)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("order request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("order rejected with status %d", resp.StatusCode)
	}

	var body orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("malformed order response: %w", err)
	}
	if body.Status == "REJECTED" {
		return "", fmt.Errorf("broker rejected order %s", body.OrderID)
	}

	logger.LogPerformanceEntry(c.log, "broker", "place_order", time.Since(start), logger.Fields{
		"symbol":   order.Symbol,
		"side":     order.TransactionType,
		"order_id": body.OrderID,
	})
	return body.OrderID, nil
}
