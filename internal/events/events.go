package events

import (
	"context"
	"strings"
	"sync"
)

// RunEvent is the streaming shape of a pipeline run event, fanned out to SSE
// subscribers as stages progress.
type RunEvent struct {
	RunID   string         `json:"run_id"`
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Ts      string         `json:"ts"`
	Source  string         `json:"source"`
	Payload map[string]any `json:"payload"`
}

// Broker fans pipeline run events out to the SSE handlers of the control
// plane, keyed by query run. It carries only live traffic; replay of earlier
// events is served from the store, not from here.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan RunEvent]struct{}
}

// NormalizeType lowercases and trims an event type. Pipeline event names use
// dot notation (run.started, stage.degraded); underscore forms are rejected
// at ingestion rather than rewritten here.
func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan RunEvent]struct{}{},
	}
}

// Subscribe returns a channel of events for one query run. The subscription
// ends when ctx is cancelled, which for SSE means the citizen closed the
// stream.
func (b *Broker) Subscribe(ctx context.Context, runID string) <-chan RunEvent {
	ch := make(chan RunEvent, 16)

	b.mu.Lock()
	if b.subscribers[runID] == nil {
		b.subscribers[runID] = map[chan RunEvent]struct{}{}
	}
	b.subscribers[runID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[runID] != nil {
			delete(b.subscribers[runID], ch)
			if len(b.subscribers[runID]) == 0 {
				delete(b.subscribers, runID)
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish delivers the event to every subscriber of its run. Slow consumers
// drop events rather than block the pipeline.
func (b *Broker) Publish(event RunEvent) {
	b.mu.RLock()
	subscribers := b.subscribers[event.RunID]
	chans := make([]chan RunEvent, 0, len(subscribers))
	for ch := range subscribers {
		chans = append(chans, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
		}
	}
}
