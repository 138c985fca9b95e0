package events

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	kafkaGo "github.com/segmentio/kafka-go"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/net/kafka"
	"gitlab.com/paramountdax-exchange/commission_engine/service/commission"
)

// Consumer reads events in batches and commits the offsets once the whole batch was handled.
// Delivery is at least once, duplicates are absorbed by the ledger idempotency keys.
type Consumer struct {
	reader     kafka.KafkaConsumer
	deadLetter kafka.KafkaProducer
	dispatcher *commission.Dispatcher
	batchSize  int
	maxWait    time.Duration
}

// NewConsumer builds a consumer; deadLetter may be nil in which case rejected events are only logged
func NewConsumer(reader kafka.KafkaConsumer, deadLetter kafka.KafkaProducer, processor commission.Processor, workers int, retryWindow time.Duration, batchSize int) *Consumer {
	if batchSize <= 0 {
		batchSize = 100
	}
	c := &Consumer{
		reader:     reader,
		deadLetter: deadLetter,
		batchSize:  batchSize,
		maxWait:    200 * time.Millisecond,
	}
	c.dispatcher = commission.NewDispatcher(processor, workers, retryWindow, c.DeadLetter)
	return c
}

// Run consumes until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	log.Info().Str("section", "events").Str("method", "Run").Msg("Starting event consumer")
	for {
		msgs, err := c.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("section", "events").Msg("Unable to fetch events")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if err := c.handle(ctx, msgs); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("section", "events").Msg("Unable to handle event batch")
		}
	}
}

// fetch blocks for the first message and then collects more until the batch is full
// or no message arrives within maxWait
func (c *Consumer) fetch(ctx context.Context) ([]kafkaGo.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafkaGo.Message{first}
	for len(msgs) < c.batchSize {
		wctx, cancel := context.WithTimeout(ctx, c.maxWait)
		msg, err := c.reader.FetchMessage(wctx)
		cancel()
		if err != nil {
			break
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (c *Consumer) handle(ctx context.Context, msgs []kafkaGo.Message) error {
	events := make([]*model.Event, 0, len(msgs))
	for _, msg := range msgs {
		ev, err := Decode(msg.Value)
		if err != nil {
			log.Warn().Err(err).Str("section", "events").
				Int64("offset", msg.Offset).Int("partition", msg.Partition).
				Msg("Rejected malformed event")
			c.publishDeadLetter(ctx, msg.Key, msg.Value, err)
			continue
		}
		events = append(events, ev)
	}
	if err := c.dispatcher.Dispatch(ctx, events); err != nil {
		return err
	}
	return c.reader.CommitMessages(ctx, msgs...)
}

// DeadLetter publishes an event that could not be applied within the retry window
func (c *Consumer) DeadLetter(ctx context.Context, ev *model.Event, cause error) {
	log.Error().Err(cause).Str("section", "events").Str("event_id", ev.EventID).Msg("Event moved to dead letter topic")
	payload, err := Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("section", "events").Str("event_id", ev.EventID).Msg("Unable to encode dead letter")
		return
	}
	c.publishDeadLetter(ctx, []byte(strconv.FormatUint(ev.SourceMemberID, 10)), payload, cause)
}

func (c *Consumer) publishDeadLetter(ctx context.Context, key, value []byte, cause error) {
	if c.deadLetter == nil {
		return
	}
	err := c.deadLetter.WriteMessages(ctx, kafkaGo.Message{
		Key:     key,
		Value:   value,
		Headers: []kafkaGo.Header{{Key: "error", Value: []byte(cause.Error())}},
	})
	if err != nil {
		log.Error().Err(err).Str("section", "events").Msg("Unable to publish dead letter")
	}
}
