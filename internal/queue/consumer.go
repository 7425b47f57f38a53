package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ErrDrop tells the delivery worker to terminate the message instead of
// requeueing it: the task can never succeed (superseded or already consumed).
var ErrDrop = errors.New("queue: drop message")

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeAttempts starts consuming logged attempts (for the API to broadcast
// via WebSocket). Only new messages are delivered; missed history is not
// replayed to a restarted subscriber.
func (c *Consumer) ConsumeAttempts(ctx context.Context, consumerName string, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, AttemptsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AttemptsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: AttemptsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				if err := handler(ctx, msg); err != nil {
					slog.Error("process attempt error", "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("attempt consumer started", "consumer", consumerName)
	return nil
}

// ConsumeDeliveries starts consuming failed delivery tasks. A handler error
// requeues the task with exponential delay; ErrDrop terminates it. maxDeliver
// caps redelivery, after which the server stops offering the message.
func (c *Consumer) ConsumeDeliveries(ctx context.Context, consumerName string, handler MessageHandler, workerCount, maxDeliver int) error {
	stream, err := c.js.Stream(ctx, DeliveriesStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", DeliveriesStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    maxDeliver,
		FilterSubject: DeliveriesSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	go func() {
		for {
			select {
			case <-ctx.Done():
				close(msgCh)
				return
			default:
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					close(msgCh)
					return
				}
				slog.Warn("fetch deliveries error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					close(msgCh)
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				err := handler(ctx, msg)
				switch {
				case err == nil:
					_ = msg.Ack()
				case errors.Is(err, ErrDrop):
					slog.Info("dropping delivery task", "worker", workerID, "subject", msg.Subject())
					_ = msg.Term()
				default:
					slog.Error("process delivery error", "worker", workerID, "error", err, "subject", msg.Subject())
					delay := 2 * time.Second
					if meta, metaErr := msg.Metadata(); metaErr == nil {
						delay = redeliveryDelay(meta.NumDelivered)
					}
					_ = msg.NakWithDelay(delay)
				}
			}
		}(i)
	}

	slog.Info("delivery consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// redeliveryDelay doubles per delivery: 2s, 4s, 8s... capped at 2 minutes.
func redeliveryDelay(numDelivered uint64) time.Duration {
	delay := 2 * time.Second
	for i := uint64(1); i < numDelivered && delay < 2*time.Minute; i++ {
		delay *= 2
	}
	if delay > 2*time.Minute {
		delay = 2 * time.Minute
	}
	return delay
}

func (c *Consumer) Close() {
	c.nc.Close()
}
