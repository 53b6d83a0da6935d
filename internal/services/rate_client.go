package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atabank/backend/internal/config"
)

// QuoteClient fetches mid-market prices of the configured currencies in
// the base currency.
type QuoteClient interface {
	FetchMidRates(ctx context.Context) (map[string]decimal.Decimal, error)
}

// ExchangeRateAPIClient talks to the exchangerate-api.com v4 endpoint.
type ExchangeRateAPIClient struct {
	baseURL    string
	base       string
	currencies []string
	httpClient *http.Client
	logger     *zap.Logger
}

// latestResponse is the subset of the /latest/{base} payload we read.
// Quotes are units of foreign currency per one unit of base.
type latestResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func NewExchangeRateAPIClient(cfg config.RatesConfig, logger *zap.Logger) *ExchangeRateAPIClient {
	return &ExchangeRateAPIClient{
		baseURL:    cfg.APIURL,
		base:       cfg.Base,
		currencies: cfg.Currencies,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		logger: logger,
	}
}

// FetchMidRates returns 1/quote for each configured currency. Missing and
// non-positive quotes are skipped.
func (c *ExchangeRateAPIClient) FetchMidRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	url := fmt.Sprintf("%s/latest/%s", c.baseURL, c.base)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rates: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	mids := make(map[string]decimal.Decimal, len(c.currencies))
	for _, code := range c.currencies {
		quote, ok := payload.Rates[code]
		if !ok || !quote.IsPositive() {
			c.logger.Debug("Skipping currency without usable quote", zap.String("currency", code))
			continue
		}
		mids[code] = decimal.NewFromInt(1).Div(quote)
	}

	c.logger.Info("Exchange rates fetched",
		zap.String("base", c.base),
		zap.Int("count", len(mids)),
		zap.Duration("took", time.Since(started)))
	return mids, nil
}
