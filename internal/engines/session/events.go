package session

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unklstewy/bigskies-focuser/internal/engines/camera"
)

// EventKind identifies a session notification.
type EventKind int

const (
	// EventConnected is raised when an attach is accepted.
	EventConnected EventKind = iota
	// EventDisconnected is raised when a session or pending attempt ends.
	EventDisconnected
)

// String returns the event name used in logs and MQTT topics.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a session notification.
type Event struct {
	Kind   EventKind
	Device camera.DeviceInfo
	// Reason says why a session ended. Empty for EventConnected.
	Reason string
	Time   time.Time
}

// dispatcher delivers events to subscribers in order on its own goroutine.
// Publishing never blocks.
type dispatcher struct {
	logger *zap.Logger

	mu     sync.Mutex
	queue  []Event
	subs   map[uint64]func(Event)
	nextID uint64
	closed bool

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

func newDispatcher(logger *zap.Logger) *dispatcher {
	d := &dispatcher{
		logger:  logger,
		subs:    make(map[uint64]func(Event)),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) subscribe(fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

func (d *dispatcher) publish(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.wake:
			d.drain()
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue = d.queue[1:]
		subs := make([]func(Event), 0, len(d.subs))
		for _, fn := range d.subs {
			subs = append(subs, fn)
		}
		d.mu.Unlock()

		for _, fn := range subs {
			d.deliver(fn, ev)
		}
	}
}

func (d *dispatcher) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Event subscriber panicked",
				zap.Stringer("event", ev.Kind),
				zap.Any("panic", r))
		}
	}()
	fn(ev)
}

// close delivers queued events and stops the goroutine.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.done)
	<-d.stopped
}
