// Package rateprovider is the concrete internal/ratesource.Provider this
// service runs: an HTTP client against the exchange-rate endpoint named in
// config, mirroring internal/ruleprovider's shape.
package rateprovider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
)

type HTTPProvider struct {
	Endpoint   string
	HTTPClient *http.Client
}

func New(endpoint string, client *http.Client) *HTTPProvider {
	return &HTTPProvider{Endpoint: endpoint, HTTPClient: client}
}

type wireRate struct {
	Currency  string `json:"currency"`
	RateToUSD string `json:"rate_to_usd"`
}

func (p *HTTPProvider) FetchRates(ctx context.Context) ([]model.ExchangeRate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "exchange rate provider: build request")
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "exchange rate provider: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("exchange rate provider: unexpected status %d", resp.StatusCode)
	}

	var wire []wireRate
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, errors.Wrap(err, "exchange rate provider: decode response")
	}

	rates := make([]model.ExchangeRate, 0, len(wire))
	for _, w := range wire {
		rate, err := decimal.NewFromString(w.RateToUSD)
		if err != nil {
			return nil, errors.Wrapf(err, "exchange rate provider: parse rate for %s", w.Currency)
		}
		rates = append(rates, model.ExchangeRate{Currency: w.Currency, RateToUSD: rate})
	}
	return rates, nil
}
