package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latticehq/hostd/pkg/bus"
	"github.com/latticehq/hostd/pkg/errs"
	"github.com/latticehq/hostd/pkg/log"
)

const specVersion = "1.0"

// Event types published on wasmbus.evt.<lattice>, per spec.md §4.9.
const (
	TypeHostStopped           = "com.wasmcloud.lattice.host_stopped"
	TypeComponentScaled       = "com.wasmcloud.lattice.component_scaled"
	TypeComponentUpdateFailed = "com.wasmcloud.lattice.component_update_failed"
	TypeProviderStarted       = "com.wasmcloud.lattice.provider_started"
	TypeProviderStartFailed   = "com.wasmcloud.lattice.provider_start_failed"
	TypeProviderStopped       = "com.wasmcloud.lattice.provider_stopped"
	TypeLinkdefSet            = "com.wasmcloud.lattice.linkdef_set"
	TypeLinkdefDeleted        = "com.wasmcloud.lattice.linkdef_deleted"
	TypeConfigSet             = "com.wasmcloud.lattice.config_set"
	TypeConfigDeleted         = "com.wasmcloud.lattice.config_deleted"
)

// Envelope is the CloudEvents-shaped wrapper spec.md §4.9 requires
// around every lattice lifecycle event.
type Envelope struct {
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
}

// Subject returns the bus subject lifecycle events are published on
// for lattice, per spec.md §6.1.
func Subject(lattice string) string {
	return "wasmbus.evt." + lattice
}

// Broker publishes lattice lifecycle events to the bus and fans them
// out to local in-process subscribers — the same shape regardless of
// whether an event originated on this host or was relayed from the
// bus by Listen.
type Broker struct {
	b       bus.Bus
	lattice string
	source  string

	mu          sync.RWMutex
	subscribers map[chan *Envelope]bool
}

// NewBroker creates a Broker. source identifies the origin host (or
// component/provider id) attached to every event this broker
// publishes, per CloudEvents' "source" field.
func NewBroker(b bus.Bus, lattice, source string) *Broker {
	return &Broker{
		b:           b,
		lattice:     lattice,
		source:      source,
		subscribers: make(map[chan *Envelope]bool),
	}
}

// Publish marshals data, wraps it in a CloudEvents envelope, writes it
// to wasmbus.evt.<lattice>, and fans it out to local subscribers.
func (br *Broker) Publish(ctx context.Context, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "marshal event data", err)
	}

	env := &Envelope{
		ID:              uuid.NewString(),
		Source:          br.source,
		SpecVersion:     specVersion,
		Type:            eventType,
		Time:            time.Now(),
		DataContentType: "application/json",
		Data:            raw,
	}

	encoded, err := json.Marshal(env)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, "marshal event envelope", err)
	}

	if err := br.b.Publish(ctx, Subject(br.lattice), encoded); err != nil {
		return err
	}

	br.broadcastLocal(env)
	return nil
}

// Listen subscribes to wasmbus.evt.<lattice> and fans every decoded
// envelope out to local subscribers, including events published by
// other hosts in the same lattice. It runs until ctx is cancelled.
func (br *Broker) Listen(ctx context.Context) (bus.Subscription, error) {
	return br.b.Subscribe(ctx, Subject(br.lattice), func(m *bus.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			log.Logger.Warn().Err(err).Msg("events: undecodable envelope on evt subject, skipping")
			return
		}
		br.broadcastLocal(&env)
	})
}

// Subscribe returns a channel of locally-observed envelopes and an
// unsubscribe function. The channel is buffered; a slow subscriber
// drops events rather than blocking publication.
func (br *Broker) Subscribe() (<-chan *Envelope, func()) {
	ch := make(chan *Envelope, 64)

	br.mu.Lock()
	br.subscribers[ch] = true
	br.mu.Unlock()

	unsubscribe := func() {
		br.mu.Lock()
		defer br.mu.Unlock()
		if _, ok := br.subscribers[ch]; ok {
			delete(br.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

func (br *Broker) broadcastLocal(env *Envelope) {
	br.mu.RLock()
	defer br.mu.RUnlock()
	for ch := range br.subscribers {
		select {
		case ch <- env:
		default:
			log.Logger.Warn().Str("event_type", env.Type).Msg("events: subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount returns the number of active local subscribers.
func (br *Broker) SubscriberCount() int {
	br.mu.RLock()
	defer br.mu.RUnlock()
	return len(br.subscribers)
}
