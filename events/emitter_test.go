package events_test

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/iturovskiy/blockmesh/events"
)

func quietLogger() *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	return lg
}

func TestEmitterDelivers(t *testing.T) {
	em := events.NewEmitter(quietLogger())
	var got []events.Event
	em.Subscribe(events.EventBlockCommitted, func(ev events.Event) {
		got = append(got, ev)
	})

	em.Emit(events.Event{Type: events.EventBlockCommitted, Node: "A", BlockHash: "h1"})
	em.Emit(events.Event{Type: events.EventBlockRejected, Node: "A", BlockHash: "h2"})

	assert.Len(t, got, 1)
	assert.Equal(t, "h1", got[0].BlockHash)
}

func TestEmitterRecoversFromPanic(t *testing.T) {
	em := events.NewEmitter(quietLogger())
	em.Subscribe(events.EventBlockCommitted, func(events.Event) {
		panic("boom")
	})
	called := false
	em.Subscribe(events.EventBlockCommitted, func(events.Event) {
		called = true
	})

	assert.NotPanics(t, func() {
		em.Emit(events.Event{Type: events.EventBlockCommitted})
	})
	assert.True(t, called, "later subscribers still run")
}
