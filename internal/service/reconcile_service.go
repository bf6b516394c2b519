package service

import (
	"context"
	"runtime/debug"
	"time"

	"sol-pay-gateway/internal/pkg/logger"
)

const (
	defaultReconcileInterval = time.Minute
	reconcileBatch           = 100
)

// PendingResumer 补发已校验入库但未领取履约的记录
type PendingResumer interface {
	ResumePending(ctx context.Context, limit int) (int, error)
}

// ReconcileService 周期性补偿：进程在入库与领取履约之间退出时，记录会停留在 verified 状态
type ReconcileService struct {
	resumer  PendingResumer
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewReconcileService(resumer PendingResumer, interval time.Duration) *ReconcileService {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReconcileService{
		resumer:  resumer,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (s *ReconcileService) Start() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce()
	for {
		select {
		case <-ticker.C:
			s.runOnce()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ReconcileService) Stop() {
	s.cancel()
	<-s.done
}

func (s *ReconcileService) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[ReconcileService] panic: %v\n%s", r, debug.Stack())
		}
	}()

	n, err := s.resumer.ResumePending(s.ctx, reconcileBatch)
	if err != nil {
		logger.Warnf("[ReconcileService] resume pending failed: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("[ReconcileService] fulfilled %d pending payments", n)
	}
}
