package distributor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gitlab.com/tokenport/distributor/common"
)

func (s *Server) runInALoop(ctx context.Context, name string, interval time.Duration, callback func(ctx context.Context) error) {
	s.stopWg.Add(1)
	ticker := time.NewTicker(interval)

	go func() {
		defer func() {
			ticker.Stop()
			s.stopWg.Done()
		}()
		for {
			select {
			case <-ctx.Done():
				log.Printf("%s loop done by context", name)
				return
			case <-ticker.C:
				if err := callback(ctx); err != nil {
					log.Printf("%s callback failed: %v", name, err)
				}
			}
		}
	}()
}

func (s *Server) startLoops(ctx context.Context) {
	if s.settings.ProgressReportInterval <= 0 {
		return
	}
	interval := time.Duration(s.settings.ProgressReportInterval) * time.Second
	s.runInALoop(ctx, "progress report", interval, s.reportProgress)
}

// reportProgress logs how much of the sale pool has been consumed.
// Before enrollment there is nothing to report, so ErrInvalidState is skipped.
func (s *Server) reportProgress(ctx context.Context) error {
	sale, err := s.sale.Sale()
	if errors.Is(err, common.ErrInvalidState) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch sale pool: %w", err)
	}
	progress, err := common.Progress(sale.Total, sale.Remaining)
	if err != nil {
		return fmt.Errorf("failed to compute sale progress: %w", err)
	}
	log.Printf("[progress]: sale %s consumed %s/%d, remaining %s of %s", sale.Token, progress.Dec(), common.ProgressPrecision, sale.Remaining.Dec(), sale.Total.Dec())
	return nil
}
