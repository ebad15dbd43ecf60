package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/launchdarkly/eventsource"
)

type message struct {
	id, event, data string
}

func (m message) Id() string    { return m.id }
func (m message) Event() string { return m.event }
func (m message) Data() string  { return m.data }

// latestRepository replays only the most recent event of a channel, so a
// client that connects late still sees the current state.
type latestRepository struct {
	mu     sync.RWMutex
	latest map[string]eventsource.Event
}

func (r *latestRepository) Replay(channel, _ string) chan eventsource.Event {
	out := make(chan eventsource.Event, 1)
	r.mu.RLock()
	if ev, ok := r.latest[channel]; ok {
		out <- ev
	}
	r.mu.RUnlock()
	close(out)
	return out
}

func (r *latestRepository) set(channel string, ev eventsource.Event) {
	r.mu.Lock()
	r.latest[channel] = ev
	r.mu.Unlock()
}

func (r *latestRepository) forget(channel string) {
	r.mu.Lock()
	delete(r.latest, channel)
	r.mu.Unlock()
}

// Broker fans JSON events out to server-sent event subscribers, one
// channel per topic.
type Broker struct {
	srv  *eventsource.Server
	repo *latestRepository
	seq  atomic.Uint64

	mu         sync.Mutex
	registered map[string]bool
}

func NewBroker() *Broker {
	srv := eventsource.NewServer()
	srv.ReplayAll = true
	return &Broker{
		srv:        srv,
		repo:       &latestRepository{latest: make(map[string]eventsource.Event)},
		registered: make(map[string]bool),
	}
}

func (b *Broker) register(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registered[channel] {
		return
	}
	b.srv.Register(channel, b.repo)
	b.registered[channel] = true
}

// Handler streams channel to the client until it disconnects.
func (b *Broker) Handler(channel string) http.Handler {
	b.register(channel)
	return b.srv.Handler(channel)
}

// Publish encodes v as JSON and sends it as an event named event.
func (b *Broker) Publish(channel, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	b.register(channel)
	ev := message{
		id:    strconv.FormatUint(b.seq.Add(1), 10),
		event: event,
		data:  string(data),
	}
	b.repo.set(channel, ev)
	b.srv.Publish([]string{channel}, ev)
	return nil
}

// Forget drops a finished channel: its replay state, its registration and
// any subscribers still attached.
func (b *Broker) Forget(channel string) {
	b.repo.forget(channel)

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.registered[channel] {
		return
	}
	b.srv.Unregister(channel, true)
	delete(b.registered, channel)
}

func (b *Broker) Close() {
	b.srv.Close()
}
