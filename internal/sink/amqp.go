package sink

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/boringprotocol/boring-bird/internal/config"
	"github.com/boringprotocol/boring-bird/internal/model"
)

// AMQPSink publishes each change as JSON to a durable topic exchange.
type AMQPSink struct {
	cfg  config.AMQPConfig
	conn *amqp091.Connection

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
	ch *amqp091.Channel
}

// NewAMQP dials the broker and declares the exchange.
func NewAMQP(cfg config.AMQPConfig) (*AMQPSink, error) {
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, errors.Annotate(err, "dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Annotate(err, "open channel")
	}
	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // kind
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return nil, errors.Annotatef(err, "declare exchange %q", cfg.Exchange)
	}
	logger.Infof("amqp sink publishing to exchange %q with routing key %q", cfg.Exchange, cfg.RoutingKey)
	return &AMQPSink{cfg: cfg, conn: conn, ch: ch}, nil
}

func (a *AMQPSink) Name() string { return "amqp" }

func (a *AMQPSink) Publish(ctx context.Context, ch model.Change) (string, error) {
	msg, err := publishing(ch)
	if err != nil {
		return "", errors.Trace(err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	err = a.ch.PublishWithContext(ctx,
		a.cfg.Exchange,   // exchange
		a.cfg.RoutingKey, // routing key
		false,            // mandatory
		false,            // immediate
		msg,
	)
	if err != nil {
		return "", errors.Annotate(err, "publish change")
	}
	return "", nil
}

func (a *AMQPSink) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ch.Close(); err != nil {
		a.conn.Close()
		return errors.Trace(err)
	}
	return errors.Trace(a.conn.Close())
}

func publishing(ch model.Change) (amqp091.Publishing, error) {
	body, err := encodeChange(ch)
	if err != nil {
		return amqp091.Publishing{}, err
	}
	return amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     ch.ID,
		CorrelationId: ch.CycleID,
		Timestamp:     ch.DetectedAt,
		Type:          "entry.status_changed",
		Body:          body,
	}, nil
}
