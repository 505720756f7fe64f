package rulecache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
)

type fakeProvider struct {
	rules []model.Rule
	err   error
}

func (f *fakeProvider) FetchRules(ctx context.Context) ([]model.Rule, error) {
	return f.rules, f.err
}

func TestInitializeAndGet(t *testing.T) {
	rule := model.Rule{PTS: "PTS1", ProcessingEntity: "PE1", IncludedDirections: []model.Direction{model.DirectionPay}}
	provider := &fakeProvider{rules: []model.Rule{rule}}
	cache := New(provider, zap.NewNop(), time.Second)

	if err := cache.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	got := cache.Get("PTS1", "PE1")
	if got.PTS != "PTS1" || got.ProcessingEntity != "PE1" {
		t.Errorf("Get returned wrong rule: %+v", got)
	}
}

func TestGetFallsBackToDefaultOnMiss(t *testing.T) {
	cache := New(&fakeProvider{}, zap.NewNop(), time.Second)
	if err := cache.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	got := cache.Get("UNKNOWN-PTS", "UNKNOWN-PE")
	want := model.DefaultRule("UNKNOWN-PTS", "UNKNOWN-PE")
	if got.PTS != want.PTS || got.ProcessingEntity != want.ProcessingEntity {
		t.Errorf("expected default rule fallback, got %+v", got)
	}
}

func TestInitializeFailureIsFatal(t *testing.T) {
	cache := New(&fakeProvider{err: context.DeadlineExceeded}, zap.NewNop(), time.Second)
	err := cache.Initialize(context.Background())
	if err == nil {
		t.Fatal("expected an error when the initial fetch fails")
	}
	if _, ok := err.(*model.FatalError); !ok {
		t.Errorf("expected a *model.FatalError, got %T", err)
	}
}

func TestRefreshOnceRetainsLastGoodOnFailure(t *testing.T) {
	rule := model.Rule{PTS: "PTS1", ProcessingEntity: "PE1"}
	provider := &fakeProvider{rules: []model.Rule{rule}}
	cache := New(provider, zap.NewNop(), 50*time.Millisecond)
	if err := cache.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	provider.err = context.DeadlineExceeded
	cache.refreshOnce(context.Background())

	got := cache.Get("PTS1", "PE1")
	// The cached rule has empty inclusion sets; the default fallback does not.
	if got.PTS != "PTS1" || len(got.IncludedBusinessStatuses) != 0 {
		t.Errorf("expected last-good rule to be retained, got %+v", got)
	}
}
