package app

import (
	"sync"

	"stereo-calib/internal/capture"
)

// EventListener is called on the runner goroutine when an event occurs. It
// must not block.
type EventListener func(e capture.Event)

// AllEvents lists every event type a listener can subscribe to.
var AllEvents = []capture.EventType{
	capture.EventStateChanged,
	capture.EventSampleAccepted,
	capture.EventSolveFailed,
	capture.EventCalibrationComplete,
	capture.EventFrameUnavailable,
}

type listeners struct {
	mu sync.RWMutex
	m  map[capture.EventType][]EventListener
}

// On registers an event listener for the specified event type.
func (r *Runner) On(event capture.EventType, listener EventListener) {
	r.listeners.mu.Lock()
	defer r.listeners.mu.Unlock()
	if r.listeners.m == nil {
		r.listeners.m = make(map[capture.EventType][]EventListener)
	}
	r.listeners.m[event] = append(r.listeners.m[event], listener)
}

// OnAll registers listener for every event type.
func (r *Runner) OnAll(listener EventListener) {
	for _, e := range AllEvents {
		r.On(e, listener)
	}
}

// Emit triggers all listeners for the event's type.
func (r *Runner) Emit(e capture.Event) {
	r.listeners.mu.RLock()
	ls := r.listeners.m[e.Type]
	r.listeners.mu.RUnlock()

	for _, listener := range ls {
		listener(e)
	}
}
