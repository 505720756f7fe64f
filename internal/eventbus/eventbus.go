// Package eventbus is the in-process fan-out of group-recalculation events
// for audit/async consumers (spec.md §4.4, §4.7, §9): it is a side channel,
// never on the correctness path. Publication is best-effort — a full
// subscriber channel drops the event rather than blocking the ingestion
// transaction that already committed.
package eventbus

import (
	"time"

	"github.com/google/uuid"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
)

// GroupRecalculated is published once per affected group after a successful
// ingestion commit.
type GroupRecalculated struct {
	CorrelationID string
	Key           model.GroupKey
	RefID         int64
	OccurredAt    time.Time
}

// Bus fans an event out to every subscriber registered through Subscribe.
// It has no unsubscribe, and Subscribe takes no lock, because its only
// consumers (notification sink, audit log) are wired once at startup — matching the
// teacher's own fixed consumer-registration shape (flowctl's OnConsume).
type Bus struct {
	subscribers []chan<- GroupRecalculated
}

func New() *Bus { return &Bus{} }

// Subscribe registers a channel that receives every published event. The
// channel should be buffered; Publish never blocks on it.
func (b *Bus) Subscribe(ch chan<- GroupRecalculated) {
	b.subscribers = append(b.subscribers, ch)
}

// Publish fans key out to every subscriber, dropping the event for any
// subscriber whose buffer is full.
func (b *Bus) Publish(key model.GroupKey, refID int64) {
	evt := GroupRecalculated{
		CorrelationID: uuid.NewString(),
		Key:           key,
		RefID:         refID,
		OccurredAt:    time.Now(),
	}
	for _, sub := range b.subscribers {
		select {
		case sub <- evt:
		default:
		}
	}
}
