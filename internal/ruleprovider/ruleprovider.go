// Package ruleprovider is the concrete internal/rulecache.Provider this
// service runs: an HTTP client against the calculation-rule endpoint named
// in config, using the same net/http + encoding/json shape as
// internal/notify's webhook client.
package ruleprovider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
)

type HTTPProvider struct {
	Endpoint   string
	HTTPClient *http.Client
}

func New(endpoint string, client *http.Client) *HTTPProvider {
	return &HTTPProvider{Endpoint: endpoint, HTTPClient: client}
}

type wireRule struct {
	PTS                      string   `json:"pts"`
	ProcessingEntity         string   `json:"processing_entity"`
	IncludedBusinessStatuses []string `json:"included_business_statuses"`
	IncludedDirections       []string `json:"included_directions"`
	IncludedSettlementTypes  []string `json:"included_settlement_types"`
}

func (p *HTTPProvider) FetchRules(ctx context.Context) ([]model.Rule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "rule provider: build request")
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "rule provider: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("rule provider: unexpected status %d", resp.StatusCode)
	}

	var wire []wireRule
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, errors.Wrap(err, "rule provider: decode response")
	}

	rules := make([]model.Rule, 0, len(wire))
	for _, w := range wire {
		r := model.Rule{PTS: w.PTS, ProcessingEntity: w.ProcessingEntity}
		for _, s := range w.IncludedBusinessStatuses {
			r.IncludedBusinessStatuses = append(r.IncludedBusinessStatuses, model.BusinessStatus(s))
		}
		for _, d := range w.IncludedDirections {
			r.IncludedDirections = append(r.IncludedDirections, model.Direction(d))
		}
		for _, t := range w.IncludedSettlementTypes {
			r.IncludedSettlementTypes = append(r.IncludedSettlementTypes, model.SettlementType(t))
		}
		rules = append(rules, r)
	}
	return rules, nil
}
