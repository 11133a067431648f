// Package events is a small synchronous pub/sub broker for mesh lifecycle
// notifications. Storage nodes publish; indexers and tooling subscribe.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EventType labels what happened.
type EventType string

const (
	// EventBlockCommitted fires once per block a storage node weaves into
	// its mesh.
	EventBlockCommitted EventType = "block_committed"
	// EventBlockRejected fires when the validation predicate refuses a
	// queued block during gossip.
	EventBlockRejected EventType = "block_rejected"
	// EventMeshRefreshed fires after a node pulls missing blocks from a
	// peer and adopts its head table.
	EventMeshRefreshed EventType = "mesh_refreshed"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type         EventType      `json:"type"`
	Node         string         `json:"node"`
	BlockHash    string         `json:"block_hash,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	Round        int            `json:"round,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      *logrus.Logger
}

// NewEmitter creates an Emitter with no subscribers. A nil logger falls
// back to the logrus standard logger.
func NewEmitter(lg *logrus.Logger) *Emitter {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Emitter{handlers: make(map[EventType][]Handler), log: lg}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot halt a consensus round.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.WithField("event", ev.Type).Warnf("handler panicked: %v", r)
				}
			}()
			h(ev)
		}()
	}
}
