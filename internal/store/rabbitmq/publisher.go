package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/chat-relay/internal/chat"
)

const publishTimeout = 5 * time.Second

// Publisher sends completed records to a durable queue; cmd/worker drains it
// into the database.
type Publisher struct {
	conn *amqp.Connection
	topo Topology

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
	ch *amqp.Channel
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "rabbitmq: dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "rabbitmq: channel")
	}
	topo := TopologyFor(queue)
	if err := topo.Declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, topo: topo}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func EncodeRecord(rec chat.Record) ([]byte, error) {
	return json.Marshal(rec)
}

// DecodeRecord rejects bodies without a turn id; such a record could not be
// ordered against the stored one.
func DecodeRecord(body []byte) (chat.Record, error) {
	var rec chat.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return chat.Record{}, errors.Wrap(err, "rabbitmq: decode record")
	}
	if rec.TurnID == "" {
		return chat.Record{}, errors.New("rabbitmq: record without turn id")
	}
	return rec, nil
}

func (p *Publisher) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx, "", queue, false, false, msg)
}

// PublishRecord sends rec to the main queue. The turn id doubles as message
// id so consumers can spot redeliveries.
func (p *Publisher) PublishRecord(ctx context.Context, rec chat.Record) error {
	body, err := EncodeRecord(rec)
	if err != nil {
		return errors.Wrap(err, "rabbitmq: encode record")
	}
	return errors.Wrap(p.publish(ctx, p.topo.Main, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.TurnID,
		Body:         body,
		Timestamp:    time.Now(),
	}), "rabbitmq: publish")
}

// Write implements persist.Sink.
func (p *Publisher) Write(ctx context.Context, rec chat.Record) error {
	return p.PublishRecord(ctx, rec)
}
