package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db/models"
	"github.com/payhub/payhub.go/lib/service"
	"github.com/ziflex/lecho/v3"
)

//go:generate mockgen -destination=./mock_poller/poller.go github.com/payhub/payhub.go/lib/poller Service

// Service is the part of the payment service a sweep drives.
type Service interface {
	FindPendingInvoicesByChains(ctx context.Context, chains []string) ([]models.Invoice, error)
	PrepareSweep(ctx context.Context, invoices []models.Invoice) error
	ProcessInvoice(ctx context.Context, invoice *models.Invoice) (service.ProcessResult, error)
	ReapExpiredInvoices(ctx context.Context) (int, error)
	RefreshLatePayments(ctx context.Context) (service.ProcessResult, error)
}

type Stats struct {
	PollCount         int64      `json:"poll_count"`
	PaymentsFound     int64      `json:"payments_found"`
	PaymentsConfirmed int64      `json:"payments_confirmed"`
	Errors            int64      `json:"errors"`
	LastPollTime      *time.Time `json:"last_poll_time"`
	IsRunning         bool       `json:"is_running"`
}

type ManualPollResult struct {
	Before    Stats `json:"before"`
	After     Stats `json:"after"`
	Processed int   `json:"processed"`
	Found     int64 `json:"found"`
	Confirmed int64 `json:"confirmed"`
}

// Poller periodically sweeps the pending invoices of poll-based chains.
// Stop only prevents future ticks; a sweep in flight runs to completion.
type Poller struct {
	svc       Service
	logger    *lecho.Logger
	interval  time.Duration
	batchSize int
	chains    []string

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	sweepMu sync.Mutex

	pollCount         atomic.Int64
	paymentsFound     atomic.Int64
	paymentsConfirmed atomic.Int64
	errors            atomic.Int64
	lastPoll          atomic.Int64
	running           atomic.Bool
}

type Option = func(p *Poller)

func WithInterval(interval time.Duration) Option {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(p *Poller) {
		if size > 0 {
			p.batchSize = size
		}
	}
}

func WithChains(chains []string) Option {
	return func(p *Poller) {
		p.chains = chains
	}
}

func New(svc Service, logger *lecho.Logger, options ...Option) *Poller {
	p := &Poller{
		svc:       svc,
		logger:    logger,
		interval:  time.Minute,
		batchSize: 10,
		chains:    common.PollChains,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Start runs one sweep immediately and then one per interval until Stop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		p.logger.Warn("Poller already running")
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.running.Store(true)
	p.logger.Infof("Starting poller interval:%s batch_size:%d chains:%v", p.interval, p.batchSize, p.chains)
	go p.loop(ctx, p.stop, p.done)
}

func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.Load() {
		p.logger.Warn("Poller is not running")
		return
	}
	close(p.stop)
	p.running.Store(false)
	p.logger.Info("Poller stopped")
}

// Wait blocks until the loop goroutine of the last Start has exited.
func (p *Poller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Poller) IsRunning() bool {
	return p.running.Load()
}

func (p *Poller) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runSweep(ctx)
	for {
		select {
		case <-ctx.Done():
			p.running.Store(false)
			return
		case <-stop:
			return
		case <-ticker.C:
			p.runSweep(ctx)
		}
	}
}

// runSweep detaches the sweep from ctx so that shutdown does not cut a
// settlement in half.
func (p *Poller) runSweep(ctx context.Context) {
	if _, _, err := p.Sweep(context.WithoutCancel(ctx)); err != nil {
		p.errors.Add(1)
		p.logger.Errorf("Poll sweep failed: %v", err)
		sentry.CaptureException(err)
	}
}

// Sweep processes all pending invoices in batches, reaps expired invoices and
// then follows up payments that were still pending when their invoice
// expired. Sweeps never overlap.
func (p *Poller) Sweep(ctx context.Context) (processed int, result service.ProcessResult, err error) {
	p.sweepMu.Lock()
	defer p.sweepMu.Unlock()
	defer func() {
		p.pollCount.Add(1)
		p.lastPoll.Store(time.Now().UnixNano())
	}()

	invoices, err := p.svc.FindPendingInvoicesByChains(ctx, p.chains)
	if err != nil {
		return 0, result, fmt.Errorf("could not load pending invoices: %w", err)
	}
	if err := p.svc.PrepareSweep(ctx, invoices); err != nil {
		p.errors.Add(1)
		p.logger.Errorf("Could not prepare sweep: %v", err)
	}

	for start := 0; start < len(invoices); start += p.batchSize {
		end := start + p.batchSize
		if end > len(invoices) {
			end = len(invoices)
		}
		batch := p.processBatch(ctx, invoices[start:end])
		result.Found += batch.Found
		result.Confirmed += batch.Confirmed
		processed += end - start
	}

	expired, err := p.svc.ReapExpiredInvoices(ctx)
	if err != nil {
		p.paymentsFound.Add(int64(result.Found))
		p.paymentsConfirmed.Add(int64(result.Confirmed))
		return processed, result, fmt.Errorf("could not reap expired invoices: %w", err)
	}
	late, err := p.svc.RefreshLatePayments(ctx)
	if err != nil {
		p.errors.Add(1)
		p.logger.Errorf("Could not refresh late payments: %v", err)
	}
	result.Found += late.Found
	result.Confirmed += late.Confirmed
	p.paymentsFound.Add(int64(result.Found))
	p.paymentsConfirmed.Add(int64(result.Confirmed))
	p.logger.Infof("Poll sweep done invoices:%d found:%d confirmed:%d expired:%d late_confirmed:%d", processed, result.Found, result.Confirmed, expired, late.Confirmed)
	return processed, result, nil
}

func (p *Poller) processBatch(ctx context.Context, invoices []models.Invoice) service.ProcessResult {
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := service.ProcessResult{}
	for i := range invoices {
		wg.Add(1)
		go func(invoice *models.Invoice) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.errors.Add(1)
					p.logger.Errorf("Panic while processing invoice invoice_id:%v %v", invoice.ID, r)
					sentry.CaptureException(fmt.Errorf("panic while processing invoice %d: %v", invoice.ID, r))
				}
			}()
			res, err := p.svc.ProcessInvoice(ctx, invoice)
			mu.Lock()
			defer mu.Unlock()
			total.Found += res.Found
			total.Confirmed += res.Confirmed
			if err != nil {
				p.errors.Add(1)
				p.logger.Errorf("Could not process invoice invoice_id:%v chain:%s %v", invoice.ID, invoice.Chain, err)
			}
		}(&invoices[i])
	}
	wg.Wait()
	return total
}

// ManualPoll runs one sweep right away, independent of the schedule.
func (p *Poller) ManualPoll(ctx context.Context) (*ManualPollResult, error) {
	before := p.Stats()
	processed, result, err := p.Sweep(ctx)
	if err != nil {
		p.errors.Add(1)
		p.logger.Errorf("Manual poll failed: %v", err)
		sentry.CaptureException(err)
		return nil, err
	}
	return &ManualPollResult{
		Before:    before,
		After:     p.Stats(),
		Processed: processed,
		Found:     int64(result.Found),
		Confirmed: int64(result.Confirmed),
	}, nil
}

func (p *Poller) Stats() Stats {
	stats := Stats{
		PollCount:         p.pollCount.Load(),
		PaymentsFound:     p.paymentsFound.Load(),
		PaymentsConfirmed: p.paymentsConfirmed.Load(),
		Errors:            p.errors.Load(),
		IsRunning:         p.running.Load(),
	}
	if last := p.lastPoll.Load(); last != 0 {
		t := time.Unix(0, last)
		stats.LastPollTime = &t
	}
	return stats
}

func (p *Poller) ResetStats() {
	p.pollCount.Store(0)
	p.paymentsFound.Store(0)
	p.paymentsConfirmed.Store(0)
	p.errors.Store(0)
	p.lastPoll.Store(0)
}
