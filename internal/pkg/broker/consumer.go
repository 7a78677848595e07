package broker

import (
	"context"
	"encoding/json"
	"sync"

	"billingbridge/internal/pkg/billing"
	"github.com/gofiber/fiber/v2/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler applies one decoded domain event.
type Handler func(ctx context.Context, kind billing.EventKind, ev billing.Event) error

// RetryPolicy is the poison-message extension point. With the zero value
// every message is acknowledged exactly once and failures are discarded.
type RetryPolicy struct {
	// MaxRetries > 0 republishes a failed message up to that many times
	// before it is discarded or dead-lettered.
	MaxRetries int
	// DeadLetterKey, when set, receives messages that exhausted their
	// retries instead of being silently discarded.
	DeadLetterKey string
}

const retryCountHeader = "x-retry-count"

// Consumer owns one broker connection and channel, binds a durable queue to
// the billing routing keys and dispatches messages sequentially to the
// handler. Messages are always acknowledged; a poison message is logged and
// discarded rather than retried forever.
type Consumer struct {
	cfg     Config
	dial    Dialer
	handler Handler
	retry   RetryPolicy

	mu    sync.Mutex
	state connState
	conn  Connection
	ch    Channel

	wg sync.WaitGroup
}

func NewConsumer(cfg Config, handler Handler) *Consumer {
	return NewConsumerWithDialer(cfg, handler, Dial)
}

func NewConsumerWithDialer(cfg Config, handler Handler, dial Dialer) *Consumer {
	return &Consumer{cfg: cfg, dial: dial, handler: handler, state: StateDisconnected}
}

// SetRetryPolicy configures bounded retries and dead-lettering. Call before
// Start.
func (c *Consumer) SetRetryPolicy(p RetryPolicy) {
	c.retry = p
}

// Start launches the consume loop. It returns immediately; the loop runs
// until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Wait blocks until the consume loop has exited.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

// State reports the connection state for health reporting.
func (c *Consumer) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		connClosed, chClosed, deliveries, ok := c.establish(ctx)
		if !ok {
			return
		}

	consume:
		for {
			select {
			case <-ctx.Done():
				c.teardown()
				return
			case amqpErr := <-connClosed:
				logClosed("[Consumer] connection", amqpErr)
				c.teardown()
				if !sleep(ctx, c.cfg.reconnectDelay()) {
					return
				}
				break consume
			case amqpErr := <-chClosed:
				// Channel-level exception; the connection may still be
				// alive but deliveries have stopped, so rebuild both.
				logClosed("[Consumer] channel", amqpErr)
				c.teardown()
				if !sleep(ctx, c.cfg.reconnectDelay()) {
					return
				}
				break consume
			case d, open := <-deliveries:
				if !open {
					// Channel drained; the close notification decides
					// whether we reconnect.
					deliveries = nil
					continue
				}
				c.handleDelivery(ctx, d)
			}
		}
	}
}

// establish dials, declares the topology and begins consuming, retrying on
// the reconnect delay. It reports false when ctx is canceled.
func (c *Consumer) establish(ctx context.Context) (chan *amqp.Error, chan *amqp.Error, <-chan amqp.Delivery, bool) {
	for {
		c.setState(StateConnecting)

		conn, ch, deliveries, err := c.connect()
		if err == nil {
			connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
			chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
			c.mu.Lock()
			c.conn = conn
			c.ch = ch
			c.state = StateConnected
			c.mu.Unlock()
			log.Infof("[Consumer] consuming queue %q bound to %q", c.cfg.Queue, c.cfg.Exchange)
			return connClosed, chClosed, deliveries, true
		}

		c.setState(StateDisconnected)
		log.Errorf("[Consumer] broker unavailable: %v (retrying in %s)", err, c.cfg.reconnectDelay())
		if !sleep(ctx, c.cfg.reconnectDelay()) {
			return nil, nil, nil, false
		}
	}
}

func (c *Consumer) connect() (Connection, Channel, <-chan amqp.Delivery, error) {
	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, err
	}

	setup := func() error {
		if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			return err
		}
		if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
			return err
		}
		for _, key := range billing.RoutingKeys() {
			if err := ch.QueueBind(c.cfg.Queue, key, c.cfg.Exchange, false, nil); err != nil {
				return err
			}
		}
		// One unacknowledged message at a time keeps processing sequential.
		return ch.Qos(1, 0, false)
	}
	if err := setup(); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, nil, err
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, nil, err
	}
	return conn, ch, deliveries, nil
}

// handleDelivery decodes and dispatches one message. The message is always
// acknowledged: malformed or failing messages are logged and discarded (or
// republished per the retry policy), never redelivered forever.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	defer func() {
		if err := d.Ack(false); err != nil {
			log.Errorf("[Consumer] ack failed: %v", err)
		}
	}()

	kind, ok := billing.KindFromRoutingKey(d.RoutingKey)
	if !ok {
		log.Warnf("[Consumer] discarding message with unknown routing key %q", d.RoutingKey)
		return
	}

	var ev billing.Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		log.Errorf("[Consumer] discarding malformed %s message: %v", kind, err)
		return
	}
	ev.Kind = kind

	if err := c.handler(ctx, kind, ev); err != nil {
		c.handleFailure(ctx, d, kind, err)
	}
}

func (c *Consumer) handleFailure(ctx context.Context, d amqp.Delivery, kind billing.EventKind, handlerErr error) {
	retries := retryCount(d.Headers)

	if c.retry.MaxRetries > 0 && retries < c.retry.MaxRetries {
		if err := c.republish(ctx, d.RoutingKey, d.Body, retries+1); err == nil {
			log.Warnf("[Consumer] %s failed (%v), retry %d/%d scheduled", kind, handlerErr, retries+1, c.retry.MaxRetries)
			return
		}
	}

	if c.retry.DeadLetterKey != "" {
		if err := c.republish(ctx, c.retry.DeadLetterKey, d.Body, retries); err == nil {
			log.Warnf("[Consumer] %s failed (%v), dead-lettered to %q", kind, handlerErr, c.retry.DeadLetterKey)
			return
		}
	}

	log.Errorf("[Consumer] discarding %s after handler error: %v", kind, handlerErr)
}

func (c *Consumer) republish(ctx context.Context, key string, body []byte, retries int) error {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch == nil {
		return amqp.ErrClosed
	}
	return ch.PublishWithContext(ctx, c.cfg.Exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryCountHeader: int32(retries)},
		Body:         body,
	})
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (c *Consumer) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// teardown closes channel then connection, best-effort.
func (c *Consumer) teardown() {
	c.mu.Lock()
	conn, ch := c.conn, c.ch
	c.conn = nil
	c.ch = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}
