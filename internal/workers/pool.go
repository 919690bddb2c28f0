// -----------------------------------------------------------------------
// Worker pool - binds queue processors to named queues with memory-bounded
// concurrency and visibility heartbeats for long-running handlers.
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caseflow/internal/common"
	"github.com/ternarybob/caseflow/internal/interfaces"
	"github.com/ternarybob/caseflow/internal/models"
)

// Pool implements WorkerPool. Each worker goroutine round-robins over the
// registered queues; concurrency is computed once at Start from free system
// memory.
type Pool struct {
	queues       interfaces.QueueManager
	logger       arbor.ILogger
	pollInterval time.Duration
	visibility   time.Duration
	concurrency  int

	mu         sync.Mutex
	processors map[string]interfaces.Processor
	order      []string
	running    bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

var _ interfaces.WorkerPool = (*Pool)(nil)

func NewPool(queues interfaces.QueueManager, workersConfig common.WorkersConfig, queueConfig common.QueueConfig, logger arbor.ILogger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		queues:       queues,
		logger:       logger,
		pollInterval: common.ParseDuration(queueConfig.PollInterval, time.Second),
		visibility:   common.ParseDuration(queueConfig.VisibilityTimeout, 5*time.Minute),
		concurrency: common.ComputeConcurrency(
			workersConfig.MinConcurrency,
			workersConfig.MaxConcurrency,
			workersConfig.PerJobMemoryMB,
		),
		processors: make(map[string]interfaces.Processor),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// RegisterProcessor binds a processor to a queue. Must be called before
// Start.
func (p *Pool) RegisterProcessor(queueName string, processor interfaces.Processor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.processors[queueName]; !exists {
		p.order = append(p.order, queueName)
	}
	p.processors[queueName] = processor

	p.logger.Info().
		Str("queue", queueName).
		Msg("Processor registered")
}

func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("worker pool already started")
	}
	if len(p.processors) == 0 {
		return errors.New("no processors registered")
	}
	p.running = true

	p.logger.Info().
		Int("workers", p.concurrency).
		Int("queues", len(p.order)).
		Msg("Starting worker pool")

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
}

func (p *Pool) worker(workerID int) {
	defer p.wg.Done()

	for {
		processed := p.sweepQueues(workerID)

		if processed {
			continue
		}
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(p.pollInterval):
		}
	}
}

// sweepQueues tries each queue once and reports whether any message was
// handled, so busy queues are drained without waiting out the poll interval.
func (p *Pool) sweepQueues(workerID int) bool {
	processed := false
	for _, queueName := range p.order {
		if p.ctx.Err() != nil {
			return processed
		}
		if p.processOne(workerID, queueName) {
			processed = true
		}
	}
	return processed
}

func (p *Pool) processOne(workerID int, queueName string) bool {
	received, err := p.queues.Receive(p.ctx, queueName)
	if err != nil {
		if !errors.Is(err, models.ErrNoMessage) && p.ctx.Err() == nil {
			p.logger.Error().Err(err).Str("queue", queueName).Msg("Failed to receive message")
		}
		return false
	}

	p.logger.Debug().
		Int("worker_id", workerID).
		Str("queue", queueName).
		Str("message_id", received.ID).
		Int("attempts", received.Attempts).
		Msg("Processing message")

	stopHeartbeat := p.startHeartbeat(queueName, received.ID)
	processor := p.processors[queueName]
	procErr := p.runProcessor(processor, received.Message)
	stopHeartbeat()

	if procErr != nil {
		p.logger.Warn().
			Str("queue", queueName).
			Str("message_id", received.ID).
			Err(procErr).
			Msg("Message processing failed")
		if nackErr := received.Nack(procErr.Error()); nackErr != nil {
			p.logger.Error().Err(nackErr).Str("message_id", received.ID).Msg("Failed to nack message")
		}
		return true
	}

	if ackErr := received.Ack(); ackErr != nil {
		p.logger.Error().Err(ackErr).Str("message_id", received.ID).Msg("Failed to ack message")
	}
	return true
}

func (p *Pool) runProcessor(processor interfaces.Processor, msg *models.QueueMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()
	return processor(p.ctx, msg)
}

// startHeartbeat extends the message's visibility while the handler runs,
// so a long OCR or LLM call does not get redelivered mid-flight.
func (p *Pool) startHeartbeat(queueName, messageID string) func() {
	done := make(chan struct{})
	interval := p.visibility / 3
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				if err := p.queues.Extend(p.ctx, queueName, messageID, p.visibility); err != nil {
					p.logger.Debug().Err(err).Str("message_id", messageID).Msg("Heartbeat extend failed")
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
