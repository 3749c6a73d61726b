package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"tradeflow/config"
	"tradeflow/logger"
	"tradeflow/models"
)

// History fetches historical bars over REST so freshly started strategies
// have enough window depth before the live feed fills it naturally. Requests
// are rate limited to stay inside the provider's quota.
type History struct {
	config  *config.Config
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Entry
}

func NewHistory(cfg *config.Config) *History {
	return &History{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.History.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.History.RequestsPerSecond), cfg.History.Burst),
		log:     logger.GetLogger().WithComponent("history"),
	}
}

// historyResponse carries candles as parallel arrays, one element per bar.
type historyResponse struct {
	Timestamps []int64   `json:"t"`
	Opens      []float64 `json:"o"`
	Highs      []float64 `json:"h"`
	Lows       []float64 `json:"l"`
	Closes     []float64 `json:"c"`
	Volumes    []float64 `json:"v"`
}

// FetchBars retrieves candles for symbol at the given timeframe between from
// and to. Bars come back oldest first.
func (h *History) FetchBars(ctx context.Context, symbol string, timeframe models.Timeframe, from, to time.Time) ([]models.Bar, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint, err := url.Parse(h.config.History.URL + "/charts/historical")
	if err != nil {
		return nil, fmt.Errorf("invalid history url: %w", err)
	}
	q := endpoint.Query()
	q.Set("symbol", symbol)
	q.Set("resolution", string(timeframe))
	q.Set("from", fmt.Sprintf("%d", from.Unix()))
	q.Set("to", fmt.Sprintf("%d", to.Unix()))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+h.config.Feed.AccessToken)
	req.Header.Set("Client-Id", h.config.Feed.ClientID)

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request returned status %d", resp.StatusCode)
	}

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("malformed history response: %w", err)
	}

	bars, err := barsFromResponse(symbol, timeframe, &body)
	if err != nil {
		return nil, err
	}

	logger.LogPerformanceEntry(h.log, "history", "fetch_bars", time.Since(start), logger.Fields{
		"symbol":    symbol,
		"timeframe": string(timeframe),
		"bars":      len(bars),
	})
	return bars, nil
}

func barsFromResponse(symbol string, timeframe models.Timeframe, body *historyResponse) ([]models.Bar, error) {
	n := len(body.Timestamps)
	if len(body.Opens) != n || len(body.Highs) != n || len(body.Lows) != n ||
		len(body.Closes) != n || len(body.Volumes) != n {
		return nil, fmt.Errorf("history arrays have inconsistent lengths")
	}

	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, models.Bar{
			Symbol:    symbol,
			Timeframe: timeframe,
			Open:      body.Opens[i],
			High:      body.Highs[i],
			Low:       body.Lows[i],
			Close:     body.Closes[i],
			Volume:    body.Volumes[i],
			Start:     time.Unix(body.Timestamps[i], 0),
		})
	}
	return bars, nil
}
