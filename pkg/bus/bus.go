// Package bus bridges engine events onto NATS subjects. Events fan out under
// a subject prefix, one subject per event type, so consumers can subscribe to
// "synth.events.>" for everything or a single type for less.
package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"
	"github.com/nats-io/nats.go"

	"github.com/luxfi/synth/pkg/synth"
)

// DefaultPrefix is the subject root events publish under.
const DefaultPrefix = "synth.events"

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
	Flush() error
}

// Envelope is the wire form of one event.
type Envelope struct {
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher implements synth.EventSink by pumping events to NATS from a
// buffered channel. Publish never blocks: when the buffer is full the event
// is dropped and counted, because engine calls hold ledger locks and must
// not wait on the network.
type Publisher struct {
	nc      Conn
	log     log.Logger
	prefix  string
	nowFn   func() time.Time
	ch      chan synth.Event
	dropped atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config tunes a Publisher.
type Config struct {
	Prefix string // subject root, DefaultPrefix when empty
	Buffer int    // channel depth, 1024 when zero
	Logger log.Logger
	NowFn  func() time.Time
}

// NewPublisher wraps a NATS connection.
func NewPublisher(nc Conn, cfg Config) *Publisher {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Root().New("module", "bus")
	}
	if cfg.NowFn == nil {
		cfg.NowFn = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		nc:     nc,
		log:    cfg.Logger,
		prefix: cfg.Prefix,
		nowFn:  cfg.NowFn,
		ch:     make(chan synth.Event, cfg.Buffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the pump goroutine.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go p.pump()
}

// Stop drains buffered events and flushes the connection.
func (p *Publisher) Stop() {
	p.cancel()
	p.wg.Wait()
	if err := p.nc.Flush(); err != nil {
		p.log.Warn("flush on stop", "error", err)
	}
}

// Publish implements synth.EventSink.
func (p *Publisher) Publish(ev synth.Event) {
	select {
	case p.ch <- ev:
	default:
		p.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded on a full buffer.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Publisher) pump() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			// drain what is already buffered before returning
			for {
				select {
				case ev := <-p.ch:
					p.send(ev)
				default:
					return
				}
			}
		case ev := <-p.ch:
			p.send(ev)
		}
	}
}

func (p *Publisher) send(ev synth.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("marshal event", "type", ev.EventType(), "error", err)
		return
	}
	env, err := json.Marshal(Envelope{Type: ev.EventType(), At: p.nowFn(), Data: data})
	if err != nil {
		p.log.Error("marshal envelope", "type", ev.EventType(), "error", err)
		return
	}
	subject := p.prefix + "." + ev.EventType()
	if err := p.nc.Publish(subject, env); err != nil {
		p.log.Warn("publish event", "subject", subject, "error", err)
	}
}

// Subscribe registers a handler for one event type, or for every type when
// kind is "*". The returned subscription must be unsubscribed by the caller.
func Subscribe(nc *nats.Conn, prefix, kind string, fn func(Envelope)) (*nats.Subscription, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	subject := prefix + "." + kind
	if kind == "*" {
		subject = prefix + ".>"
	}
	return nc.Subscribe(subject, func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			return
		}
		fn(env)
	})
}
