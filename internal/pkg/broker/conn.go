package broker

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Config carries the broker settings shared by Publisher and Consumer.
type Config struct {
	URL            string
	Exchange       string
	Queue          string
	ReconnectDelay time.Duration
}

func (c Config) reconnectDelay() time.Duration {
	if c.ReconnectDelay <= 0 {
		return 5 * time.Second
	}
	return c.ReconnectDelay
}

// Channel is the subset of *amqp.Channel the pipeline uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Connection abstracts *amqp.Connection so the reconnect loops can be
// exercised without a live broker.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Dialer opens a broker connection.
type Dialer func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Dial is the production Dialer backed by amqp091-go.
func Dial(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// connState is the explicit connection state machine. Transitions happen
// only inside the owning run loop.
type connState int32

const (
	StateDisconnected connState = iota
	StateConnecting
	StateConnected
)

func (s connState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// logClosed logs a connection or channel close notification.
func logClosed(what string, amqpErr *amqp.Error) {
	if amqpErr != nil {
		log.Warnf("%s lost: %v", what, amqpErr)
	} else {
		log.Warnf("%s closed", what)
	}
}

// sleep waits for d or context cancellation; it reports false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
