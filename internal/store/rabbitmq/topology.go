package rabbitmq

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const retryCountHeader = "x-retry-count"

// Topology names the queues behind one record stream. Rejected deliveries
// on Main dead-letter to DLQ; messages parked on Retry expire back to Main.
type Topology struct {
	Main  string
	Retry string
	DLQ   string
}

func TopologyFor(queue string) Topology {
	return Topology{Main: queue, Retry: queue + ".retry", DLQ: queue + ".dlq"}
}

func deadLetterTo(queue string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}
}

// Declare creates the queues, all durable. Publisher and worker must agree
// on it; redeclaring with the same arguments is a no-op.
func (t Topology) Declare(ch *amqp.Channel) error {
	queues := []struct {
		name string
		args amqp.Table
	}{
		{t.DLQ, nil},
		{t.Retry, deadLetterTo(t.Main)},
		{t.Main, deadLetterTo(t.DLQ)},
	}
	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return errors.Wrapf(err, "rabbitmq: declare %s", q.name)
		}
	}
	return nil
}

// RetryCount reports how many times a delivery has been parked for retry.
func RetryCount(d amqp.Delivery) int {
	switch v := d.Headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// RetryPublishing copies d for the retry queue, counting one more attempt.
// It comes back to the main queue after delay.
func RetryPublishing(d amqp.Delivery, delay time.Duration) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Headers:      amqp.Table{retryCountHeader: int32(RetryCount(d) + 1)},
		Body:         d.Body,
		Timestamp:    time.Now(),
	}
}
