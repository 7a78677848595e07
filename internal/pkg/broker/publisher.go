package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"billingbridge/internal/pkg/billing"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// PublishOutcome tells the caller what happened to a published event. The
// webhook response never depends on it, but it feeds logs and counters.
type PublishOutcome int

const (
	OutcomeEnqueued PublishOutcome = iota
	OutcomeDroppedNoConnection
)

func (o PublishOutcome) String() string {
	if o == OutcomeEnqueued {
		return "enqueued"
	}
	return "dropped_no_connection"
}

// Publisher owns one broker connection and channel and publishes domain
// events to a durable topic exchange. Publish never blocks on broker
// trouble: without a live channel the event is dropped and logged.
type Publisher struct {
	cfg  Config
	dial Dialer

	mu    sync.Mutex
	state connState
	conn  Connection
	ch    Channel

	wg sync.WaitGroup
}

func NewPublisher(cfg Config) *Publisher {
	return NewPublisherWithDialer(cfg, Dial)
}

func NewPublisherWithDialer(cfg Config, dial Dialer) *Publisher {
	return &Publisher{cfg: cfg, dial: dial, state: StateDisconnected}
}

// Start launches the connection loop. It returns immediately; the loop runs
// until ctx is canceled.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Wait blocks until the connection loop has exited.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

// State reports the connection state for health reporting.
func (p *Publisher) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.String()
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		connClosed, chClosed, ok := p.establish(ctx)
		if !ok {
			return
		}

		select {
		case <-ctx.Done():
			p.teardown()
			return
		case amqpErr := <-connClosed:
			logClosed("[Publisher] connection", amqpErr)
		case amqpErr := <-chClosed:
			// Channel-level exception; the connection may still be alive
			// but the channel is unusable, so rebuild both.
			logClosed("[Publisher] channel", amqpErr)
		}
		p.teardown()
		if !sleep(ctx, p.cfg.reconnectDelay()) {
			return
		}
	}
}

// establish dials and declares topology, retrying on the reconnect delay
// until connected. It reports false when ctx is canceled.
func (p *Publisher) establish(ctx context.Context) (chan *amqp.Error, chan *amqp.Error, bool) {
	for {
		p.setState(StateConnecting)

		conn, ch, err := p.connect()
		if err == nil {
			connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
			chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
			p.mu.Lock()
			p.conn = conn
			p.ch = ch
			p.state = StateConnected
			p.mu.Unlock()
			log.Infof("[Publisher] connected, exchange %q ready", p.cfg.Exchange)
			return connClosed, chClosed, true
		}

		p.setState(StateDisconnected)
		log.Errorf("[Publisher] broker unavailable: %v (retrying in %s)", err, p.cfg.reconnectDelay())
		if !sleep(ctx, p.cfg.reconnectDelay()) {
			return nil, nil, false
		}
	}
}

func (p *Publisher) connect() (Connection, Channel, error) {
	conn, err := p.dial(p.cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// Publish sends one event to the exchange with the kind's routing key. It
// is fire-and-forget for the caller: broker trouble degrades to a dropped
// event, never an error or a block.
func (p *Publisher) Publish(ctx context.Context, ev billing.Event) PublishOutcome {
	p.mu.Lock()
	ch := p.ch
	state := p.state
	p.mu.Unlock()

	if state != StateConnected || ch == nil {
		log.Warnf("[Publisher] dropping %s for %s: no broker connection", ev.Kind, ev.StripeSubscriptionID)
		return OutcomeDroppedNoConnection
	}

	body, err := json.Marshal(ev)
	if err != nil {
		log.Errorf("[Publisher] dropping %s: marshal failed: %v", ev.Kind, err)
		return OutcomeDroppedNoConnection
	}

	err = ch.PublishWithContext(ctx, p.cfg.Exchange, ev.Kind.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		log.Errorf("[Publisher] dropping %s for %s: publish failed: %v", ev.Kind, ev.StripeSubscriptionID, err)
		return OutcomeDroppedNoConnection
	}
	return OutcomeEnqueued
}

func (p *Publisher) setState(s connState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// teardown closes channel then connection, best-effort.
func (p *Publisher) teardown() {
	p.mu.Lock()
	conn, ch := p.conn, p.ch
	p.conn = nil
	p.ch = nil
	p.state = StateDisconnected
	p.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}
