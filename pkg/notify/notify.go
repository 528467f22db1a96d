// Package notify attaches lifecycle notification sinks to pipeline topologies.
package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/deploypipe/internal/common"
)

// LifecycleEvent is a pipeline-level outcome. The set is closed.
type LifecycleEvent string

const (
	EventSucceeded LifecycleEvent = "Succeeded"
	EventFailed    LifecycleEvent = "Failed"
)

// AllEvents lists every lifecycle event.
var AllEvents = []LifecycleEvent{EventSucceeded, EventFailed}

// UnknownEventError is returned for events outside the closed set.
type UnknownEventError struct {
	Event string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown lifecycle event %q", e.Event)
}

// ParseEvent parses an event name case-insensitively.
func ParseEvent(s string) (LifecycleEvent, error) {
	for _, ev := range AllEvents {
		if strings.EqualFold(strings.TrimSpace(s), string(ev)) {
			return ev, nil
		}
	}
	return "", &UnknownEventError{Event: s}
}

// Notification is the payload delivered to sinks.
type Notification struct {
	ID          string         `json:"id"`
	TopologyID  string         `json:"topology_id"`
	Environment string         `json:"environment"`
	RunID       string         `json:"run_id,omitempty"`
	Event       LifecycleEvent `json:"event"`
	Stage       string         `json:"stage,omitempty"`
	Message     string         `json:"message,omitempty"`
	Time        time.Time      `json:"time"`
}

// Text renders a one-line human readable summary.
func (n Notification) Text() string {
	s := fmt.Sprintf("Pipeline %s (%s) %s", n.TopologyID, n.Environment, strings.ToLower(string(n.Event)))
	if n.Stage != "" {
		s += " at stage " + n.Stage
	}
	if n.Message != "" {
		s += ": " + n.Message
	}
	return s
}

// Sink delivers notifications to one external target. Key identifies the
// target; two sinks with the same key are the same subscription.
type Sink interface {
	Key() string
	Send(ctx context.Context, n Notification) error
}

// Subscription is one (topology, sink) pair and the events it listens to.
type Subscription struct {
	TopologyID string           `json:"topology_id"`
	SinkKey    string           `json:"sink"`
	Events     []LifecycleEvent `json:"events"`
	sink       Sink
}

// Wants reports whether the subscription listens to ev.
func (s Subscription) Wants(ev LifecycleEvent) bool {
	return slices.Contains(s.Events, ev)
}

// Hub holds subscriptions for any number of topologies.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string][]Subscription
	logger *common.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string][]Subscription),
		logger: common.GetLogger().WithComponent("notify"),
	}
}

// Attach subscribes sink to events of a topology. Attaching a sink whose key is
// already subscribed to the topology is a no-op; the first subscription wins.
func (h *Hub) Attach(topologyID string, events []LifecycleEvent, sink Sink) error {
	if strings.TrimSpace(topologyID) == "" {
		return errors.New("topology id must not be empty")
	}
	if sink == nil || strings.TrimSpace(sink.Key()) == "" {
		return errors.New("sink must have a non-empty key")
	}
	if len(events) == 0 {
		return errors.New("at least one lifecycle event is required")
	}
	set := make([]LifecycleEvent, 0, len(events))
	for _, ev := range events {
		if !slices.Contains(AllEvents, ev) {
			return &UnknownEventError{Event: string(ev)}
		}
		if !slices.Contains(set, ev) {
			set = append(set, ev)
		}
	}
	slices.Sort(set)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs[topologyID] {
		if s.SinkKey == sink.Key() {
			h.logger.Debug("sink already attached", "topology", topologyID, "sink", sink.Key())
			return nil
		}
	}
	h.subs[topologyID] = append(h.subs[topologyID], Subscription{
		TopologyID: topologyID,
		SinkKey:    sink.Key(),
		Events:     set,
		sink:       sink,
	})
	h.logger.Info("sink attached", "topology", topologyID, "sink", sink.Key(), "events", set)
	return nil
}

// Subscriptions returns the subscriptions of a topology in attach order.
func (h *Hub) Subscriptions(topologyID string) []Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Subscription, len(h.subs[topologyID]))
	for i, s := range h.subs[topologyID] {
		out[i] = s
		out[i].Events = slices.Clone(s.Events)
	}
	return out
}

// Detach removes every subscription of a topology.
func (h *Hub) Detach(topologyID string) {
	h.mu.Lock()
	delete(h.subs, topologyID)
	h.mu.Unlock()
}

// Publish delivers n to every sink subscribed to its event and returns the
// number of sinks that accepted it. Sink failures are logged, never returned.
func (h *Hub) Publish(ctx context.Context, n Notification) int {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}

	h.mu.RLock()
	subs := slices.Clone(h.subs[n.TopologyID])
	h.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if !s.Wants(n.Event) {
			continue
		}
		if err := s.sink.Send(ctx, n); err != nil {
			h.logger.Warn("notification delivery failed",
				"topology", n.TopologyID, "sink", s.SinkKey, "event", string(n.Event), "error", err)
			continue
		}
		delivered++
	}
	h.logger.Debug("notification published",
		"topology", n.TopologyID, "event", string(n.Event), "delivered", delivered)
	return delivered
}
