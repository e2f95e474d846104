package sequence

import (
	"academy/academy/utils/logging"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultInterval = 5 * time.Minute

// Runner calls Processor.Run on a fixed interval until stopped.
type Runner struct {
	processor *Processor
	interval  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(p *Processor, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{processor: p, interval: interval}
}

// Start launches the loop. A second Start without Stop is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if _, err := r.processor.Run(loopCtx); err != nil {
					logging.ErrorLogger.Error("scheduled sequence run failed", zap.Error(err))
				}
			}
		}
	}()

	logging.AppLogger.Info("sequence runner started", zap.Duration("interval", r.interval))
}

// Stop cancels the loop and waits for an in-flight run to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
