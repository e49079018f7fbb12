package worker

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Requeuer is the part of the queue service the reclaimer drives.
type Requeuer interface {
	RequeueStalePrintJobs(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
}

type PrintReclaimConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// PrintReclaimer periodically releases print jobs an agent claimed but never
// acknowledged.
type PrintReclaimer struct {
	requeuer Requeuer
	cfg      PrintReclaimConfig
	logger   *slog.Logger
}

func NewPrintReclaimer(requeuer Requeuer, cfg PrintReclaimConfig, logger *slog.Logger) *PrintReclaimer {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PrintReclaimer{requeuer: requeuer, cfg: cfg, logger: logger}
}

// Run scans until ctx is done. A zero StaleAfter disables it.
func (p *PrintReclaimer) Run(ctx context.Context) {
	if p.cfg.StaleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Scan(ctx)
		}
	}
}

// Scan runs one pass and returns the number of jobs released.
func (p *PrintReclaimer) Scan(ctx context.Context) int {
	scanCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	count, err := p.requeuer.RequeueStalePrintJobs(scanCtx, p.cfg.StaleAfter, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("print job reclaim", "error", err)
		return 0
	}
	return count
}
