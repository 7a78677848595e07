package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publishedMessage struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type declaredExchange struct {
	name    string
	kind    string
	durable bool
}

type declaredQueue struct {
	name    string
	durable bool
}

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  []declaredExchange
	queues     []declaredQueue
	binds      map[string][]string
	qosCount   int
	published  []publishedMessage
	publishErr error
	deliveries chan amqp.Delivery
	notify     chan *amqp.Error
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		binds:      make(map[string][]string),
		deliveries: make(chan amqp.Delivery, 16),
	}
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, declaredExchange{name: name, kind: kind, durable: durable})
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = append(c.queues, declaredQueue{name: name, durable: durable})
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binds[name] = append(c.binds[name], key)
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prefetchCount != 1 {
		return errors.New("unexpected prefetch count")
	}
	c.qosCount++
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("consumer must use manual acknowledgment")
	}
	return c.deliveries, nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, publishedMessage{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.notify = receiver
	return receiver
}

// dropChannel simulates a channel-level exception while the connection
// stays up.
func (c *fakeChannel) dropChannel() {
	c.notify <- &amqp.Error{Code: amqp.ChannelError, Reason: "test channel exception"}
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) publishedMessages() []publishedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]publishedMessage, len(c.published))
	copy(out, c.published)
	return out
}

type fakeConnection struct {
	ch     *fakeChannel
	notify chan *amqp.Error
	closed atomic.Bool
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{ch: newFakeChannel()}
}

func (c *fakeConnection) Channel() (Channel, error) {
	return c.ch, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.notify = receiver
	return receiver
}

func (c *fakeConnection) Close() error {
	c.closed.Store(true)
	return nil
}

// dropConnection simulates a broker-side connection loss.
func (c *fakeConnection) dropConnection() {
	c.notify <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "test disconnect"}
}

// fakeDialer hands out a fresh fake connection per dial and counts dials.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConnection
	errs  int // number of leading dials that fail
	dials atomic.Int32
}

func (d *fakeDialer) dial(url string) (Connection, error) {
	n := d.dials.Add(1)
	if int(n) <= d.errs {
		return nil, errors.New("connection refused")
	}
	conn := newFakeConnection()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) lastConn() *fakeConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeAcknowledger struct {
	acks  atomic.Int32
	nacks atomic.Int32
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acks.Add(1)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks.Add(1)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.nacks.Add(1)
	return nil
}
