// util/event_bus.go

package util

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	logger "github.com/framelane/aegis/logging"
)

// Topics published by the trust layer.
const (
	TopicAccessGranted       = "access.granted"
	TopicAccessRefreshDue    = "access.refresh_due"
	TopicSecurityViolation   = "security.violation"
	TopicBreakerStateChanged = "breaker.state_changed"
)

// SecurityViolationEvent is the payload carried on TopicSecurityViolation.
type SecurityViolationEvent struct {
	SubjectID     string `json:"subject_id,omitempty"`
	ViolationType string `json:"violation_type"`
	Severity      string `json:"severity"`
	ResourceID    string `json:"resource_id,omitempty"`
	Description   string `json:"description,omitempty"`
}

// BreakerTransitionEvent is the payload carried on TopicBreakerStateChanged.
type BreakerTransitionEvent struct {
	Service string `json:"service"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// Event carries one published occurrence.
type Event struct {
	Topic   string
	Payload interface{}
}

// EventHandler handles a single event. Handler errors are collected on the
// bus error channel, never returned to the publisher.
type EventHandler func(context.Context, Event) error

// EventBus fans events out to subscribers. Handlers run detached from the
// publisher so a slow consumer cannot stall an issuance path.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	errorChan   chan error
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]EventHandler),
		errorChan:   make(chan error, 100),
	}
}

// Subscribe registers a handler for a topic.
func (eb *EventBus) Subscribe(topic string, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[topic] = append(eb.subscribers[topic], handler)
}

// Publish delivers the event to every subscriber of the topic.
func (eb *EventBus) Publish(ctx context.Context, topic string, payload interface{}) {
	eb.mu.RLock()
	handlers, exists := eb.subscribers[topic]
	eb.mu.RUnlock()

	if !exists {
		return
	}

	event := Event{
		Topic:   topic,
		Payload: payload,
	}

	for _, handler := range handlers {
		go func(h EventHandler) {
			if err := h(ctx, event); err != nil {
				select {
				case eb.errorChan <- fmt.Errorf("event handler error on %s: %w", topic, err):
				default:
					logger.Error("Error channel full, logging event handler error",
						zap.Error(err),
						zap.String("topic", topic))
				}
			}
		}(handler)
	}
}

// Start begins draining handler errors until ctx is cancelled.
func (eb *EventBus) Start(ctx context.Context) {
	go eb.processErrors(ctx)
}

func (eb *EventBus) processErrors(ctx context.Context) {
	for {
		select {
		case err := <-eb.errorChan:
			logger.Error("Event handler error", zap.Error(err))
		case <-ctx.Done():
			return
		}
	}
}
