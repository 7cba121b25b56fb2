package poller_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/payhub/payhub.go/common"
	"github.com/payhub/payhub.go/db/models"
	"github.com/payhub/payhub.go/lib/poller"
	"github.com/payhub/payhub.go/lib/poller/mock_poller"
	"github.com/payhub/payhub.go/lib/service"
	"github.com/stretchr/testify/assert"
	"github.com/ziflex/lecho/v3"
)

func pendingInvoices(n int) []models.Invoice {
	invoices := make([]models.Invoice, n)
	for i := range invoices {
		invoices[i] = models.Invoice{ID: int64(i), Chain: common.ChainTRON, Status: common.InvoiceStatusPending}
	}
	return invoices
}

func newTestPoller(svc poller.Service, options ...poller.Option) *poller.Poller {
	return poller.New(svc, lecho.New(io.Discard), options...)
}

func TestSweepProcessesInvoicesInSequentialBatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mock_poller.NewMockService(ctrl)

	invoices := pendingInvoices(25)
	svc.EXPECT().FindPendingInvoicesByChains(gomock.Any(), gomock.Eq(common.PollChains)).Return(invoices, nil)
	svc.EXPECT().PrepareSweep(gomock.Any(), gomock.Any()).Return(nil)
	svc.EXPECT().ReapExpiredInvoices(gomock.Any()).Return(0, nil)
	svc.EXPECT().RefreshLatePayments(gomock.Any()).Return(service.ProcessResult{}, nil)

	var inFlight, maxInFlight, completed int64
	var mu sync.Mutex
	violations := 0
	svc.EXPECT().ProcessInvoice(gomock.Any(), gomock.Any()).Times(25).
		DoAndReturn(func(ctx context.Context, invoice *models.Invoice) (service.ProcessResult, error) {
			batch := invoice.ID / 10
			mu.Lock()
			if atomic.LoadInt64(&completed) < batch*10 {
				violations++
			}
			mu.Unlock()
			current := atomic.AddInt64(&inFlight, 1)
			for {
				max := atomic.LoadInt64(&maxInFlight)
				if current <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			atomic.AddInt64(&completed, 1)
			return service.ProcessResult{Found: 1}, nil
		})

	p := newTestPoller(svc, poller.WithBatchSize(10))
	processed, result, err := p.Sweep(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 25, processed)
	assert.Equal(t, 25, result.Found)
	assert.Equal(t, 0, violations)
	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(10))

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.PollCount)
	assert.Equal(t, int64(25), stats.PaymentsFound)
	assert.NotNil(t, stats.LastPollTime)
}

func TestSweepIsolatesInvoiceFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mock_poller.NewMockService(ctrl)

	svc.EXPECT().FindPendingInvoicesByChains(gomock.Any(), gomock.Any()).Return(pendingInvoices(4), nil)
	svc.EXPECT().PrepareSweep(gomock.Any(), gomock.Any()).Return(nil)
	svc.EXPECT().ReapExpiredInvoices(gomock.Any()).Return(1, nil)
	svc.EXPECT().RefreshLatePayments(gomock.Any()).Return(service.ProcessResult{}, nil)
	svc.EXPECT().ProcessInvoice(gomock.Any(), gomock.Any()).Times(4).
		DoAndReturn(func(ctx context.Context, invoice *models.Invoice) (service.ProcessResult, error) {
			switch invoice.ID {
			case 1:
				return service.ProcessResult{}, errors.New("trongrid error")
			case 2:
				panic("unexpected nil receipt")
			}
			return service.ProcessResult{Found: 1, Confirmed: 1}, nil
		})

	p := newTestPoller(svc)
	processed, result, err := p.Sweep(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 4, processed)
	assert.Equal(t, 2, result.Confirmed)
	assert.Equal(t, int64(2), p.Stats().Errors)
}

func TestManualPollIsIdempotentWithoutNewPayments(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mock_poller.NewMockService(ctrl)

	invoices := pendingInvoices(2)
	svc.EXPECT().FindPendingInvoicesByChains(gomock.Any(), gomock.Any()).Return(invoices, nil).Times(2)
	svc.EXPECT().PrepareSweep(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	svc.EXPECT().ReapExpiredInvoices(gomock.Any()).Return(0, nil).Times(2)
	svc.EXPECT().RefreshLatePayments(gomock.Any()).Return(service.ProcessResult{}, nil).Times(2)
	first := true
	var mu sync.Mutex
	svc.EXPECT().ProcessInvoice(gomock.Any(), gomock.Any()).Times(4).
		DoAndReturn(func(ctx context.Context, invoice *models.Invoice) (service.ProcessResult, error) {
			mu.Lock()
			defer mu.Unlock()
			if first && invoice.ID == 0 {
				first = false
				return service.ProcessResult{Found: 1, Confirmed: 1}, nil
			}
			return service.ProcessResult{}, nil
		})

	p := newTestPoller(svc)
	res, err := p.ManualPoll(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, int64(1), res.Found)
	assert.Equal(t, int64(1), res.Confirmed)
	assert.Equal(t, int64(0), res.Before.PollCount)
	assert.Equal(t, int64(1), res.After.PollCount)

	res, err = p.ManualPoll(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(0), res.Found)
	assert.Equal(t, int64(0), res.Confirmed)
	assert.Equal(t, res.Before.PaymentsConfirmed, res.After.PaymentsConfirmed)
	assert.Equal(t, int64(2), res.After.PollCount)
}

func TestManualPollReportsSweepFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mock_poller.NewMockService(ctrl)

	svc.EXPECT().FindPendingInvoicesByChains(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))

	p := newTestPoller(svc)
	_, err := p.ManualPoll(context.Background())
	assert.Error(t, err)
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(1), stats.PollCount)
}

func TestStartRunsImmediatelyAndStopIsIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mock_poller.NewMockService(ctrl)

	swept := make(chan struct{}, 1)
	svc.EXPECT().FindPendingInvoicesByChains(gomock.Any(), gomock.Any()).Return([]models.Invoice{}, nil).Times(1)
	svc.EXPECT().PrepareSweep(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	svc.EXPECT().ReapExpiredInvoices(gomock.Any()).
		DoAndReturn(func(ctx context.Context) (int, error) {
			swept <- struct{}{}
			return 0, nil
		}).Times(1)
	svc.EXPECT().RefreshLatePayments(gomock.Any()).Return(service.ProcessResult{}, nil).Times(1)

	p := newTestPoller(svc, poller.WithInterval(time.Hour))
	p.Start(context.Background())
	p.Start(context.Background())
	assert.True(t, p.IsRunning())
	assert.True(t, p.Stats().IsRunning)

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("no sweep after start")
	}

	p.Stop()
	p.Wait()
	assert.False(t, p.IsRunning())
	p.Stop()
	assert.False(t, p.Stats().IsRunning)
}

func TestResetStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mock_poller.NewMockService(ctrl)

	svc.EXPECT().FindPendingInvoicesByChains(gomock.Any(), gomock.Any()).Return(pendingInvoices(1), nil)
	svc.EXPECT().PrepareSweep(gomock.Any(), gomock.Any()).Return(errors.New("eth node down"))
	svc.EXPECT().ProcessInvoice(gomock.Any(), gomock.Any()).Return(service.ProcessResult{Found: 1}, nil)
	svc.EXPECT().ReapExpiredInvoices(gomock.Any()).Return(0, nil)
	svc.EXPECT().RefreshLatePayments(gomock.Any()).Return(service.ProcessResult{}, nil)

	p := newTestPoller(svc)
	_, err := p.ManualPoll(context.Background())
	assert.NoError(t, err)
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(1), stats.PaymentsFound)

	p.ResetStats()
	stats = p.Stats()
	assert.Equal(t, int64(0), stats.PollCount)
	assert.Equal(t, int64(0), stats.PaymentsFound)
	assert.Equal(t, int64(0), stats.Errors)
	assert.Nil(t, stats.LastPollTime)
}

func TestSweepFollowsUpLatePaymentsAfterReaping(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mock_poller.NewMockService(ctrl)

	svc.EXPECT().FindPendingInvoicesByChains(gomock.Any(), gomock.Any()).Return([]models.Invoice{}, nil)
	svc.EXPECT().PrepareSweep(gomock.Any(), gomock.Any()).Return(nil)
	gomock.InOrder(
		svc.EXPECT().ReapExpiredInvoices(gomock.Any()).Return(1, nil),
		svc.EXPECT().RefreshLatePayments(gomock.Any()).Return(service.ProcessResult{Confirmed: 1}, nil),
	)

	p := newTestPoller(svc)
	_, result, err := p.Sweep(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, result.Confirmed)
	assert.Equal(t, int64(1), p.Stats().PaymentsConfirmed)
}

func TestLatePaymentFailureDoesNotFailSweep(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	svc := mock_poller.NewMockService(ctrl)

	svc.EXPECT().FindPendingInvoicesByChains(gomock.Any(), gomock.Any()).Return(pendingInvoices(1), nil)
	svc.EXPECT().PrepareSweep(gomock.Any(), gomock.Any()).Return(nil)
	svc.EXPECT().ProcessInvoice(gomock.Any(), gomock.Any()).Return(service.ProcessResult{Found: 1}, nil)
	svc.EXPECT().ReapExpiredInvoices(gomock.Any()).Return(0, nil)
	svc.EXPECT().RefreshLatePayments(gomock.Any()).Return(service.ProcessResult{}, errors.New("blockcypher down"))

	p := newTestPoller(svc)
	processed, result, err := p.Sweep(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, result.Found)
	assert.Equal(t, int64(1), p.Stats().Errors)
}
