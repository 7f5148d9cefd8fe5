package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storefront-events/internal/infrastructure/email"
)

const sendTimeout = 15 * time.Second

type emailJob struct {
	address string
	subject string
	body    string
}

// EmailPool sends emails on a fixed set of goroutines so that callers never
// wait on the mail server.
type EmailPool struct {
	mailer  email.Mailer
	queue   chan emailJob
	workers int
	log     *slog.Logger
	wg      sync.WaitGroup
}

func NewEmailPool(mailer email.Mailer, workers, queueSize int, logger *slog.Logger) *EmailPool {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &EmailPool{
		mailer:  mailer,
		queue:   make(chan emailJob, queueSize),
		workers: workers,
		log:     logger.With("component", "email-pool"),
	}
}

// Enqueue hands a message to the pool without blocking. It reports false
// when the queue is full and the message was dropped.
func (p *EmailPool) Enqueue(address, subject, body string) bool {
	select {
	case p.queue <- emailJob{address: address, subject: subject, body: body}:
		return true
	default:
		p.log.Warn("email queue full, dropping message", "to", address, "subject", subject)
		return false
	}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has returned.
func (p *EmailPool) Run(ctx context.Context) {
	p.log.Info("email pool started", "workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(ctx)
		}()
	}
	p.wg.Wait()
	p.log.Info("email pool stopped")
}

func (p *EmailPool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.send(ctx, job)
		}
	}
}

func (p *EmailPool) send(ctx context.Context, job emailJob) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := p.mailer.Send(ctx, job.address, job.subject, job.body); err != nil {
		p.log.Warn("email delivery failed", "to", job.address, "subject", job.subject, "error", err)
	}
}
