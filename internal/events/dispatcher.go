package events

import (
	"context"
	"sync"
	"time"

	"github.com/rongwang/guild-ledger/internal/config"
	"github.com/rongwang/guild-ledger/internal/utils"
)

const publishTimeout = 5 * time.Second

// NewPublisher selects the broker named by the configuration
func NewPublisher(cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Backend {
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers), nil
	case "amqp":
		return NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	default:
		return NoopPublisher{}, nil
	}
}

// Dispatcher hands events to a Publisher from a background goroutine so
// callers never wait on the broker. Events are dropped when the queue is full.
type Dispatcher struct {
	publisher Publisher
	queue     chan []Event
	logger    *utils.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher with a bounded queue
func NewDispatcher(publisher Publisher, buffer int, logger *utils.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		queue:     make(chan []Event, buffer),
		logger:    logger.WithComponent("events"),
		done:      make(chan struct{}),
	}
}

// Start begins delivering queued events
func (d *Dispatcher) Start() {
	go d.run()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for batch := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := d.publisher.Publish(ctx, batch...); err != nil {
			d.logger.Warn("failed to publish events", "count", len(batch), "type", batch[0].Type, "error", err)
		}
		cancel()
	}
}

// Emit queues events without blocking
func (d *Dispatcher) Emit(events ...Event) {
	if len(events) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- events:
	default:
		d.logger.Warn("event queue full, dropping events", "count", len(events), "type", events[0].Type)
	}
}

// Stop drains the queue, waits for delivery and closes the publisher
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	return d.publisher.Close()
}
