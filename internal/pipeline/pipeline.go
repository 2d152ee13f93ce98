package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/worldping/internal/metrics"
	"github.com/worldping/internal/probe"
	"github.com/worldping/internal/ranking"
	"github.com/worldping/internal/report"
	"golang.org/x/time/rate"
)

type Config struct {
	Domain      string        // worlds are world<ID>.<Domain>
	Concurrency int           // probes in flight; 1 or less probes sequentially
	Interval    time.Duration // minimum gap between probe launches; zero disables pacing
}

// Pipeline probes worlds, feeds the averages into a Board and reports the
// interim ranking after every probe.
type Pipeline struct {
	config   Config
	prober   probe.Prober
	board    *ranking.Board
	reporter report.Reporter
	metrics  *metrics.Collector
	limiter  *rate.Limiter

	// incorporating a probe and reporting it is one step
	mu sync.Mutex
}

func New(cfg Config, prober probe.Prober, board *ranking.Board, reporter report.Reporter, metricsCollector *metrics.Collector) *Pipeline {
	p := &Pipeline{
		config:   cfg,
		prober:   prober,
		board:    board,
		reporter: reporter,
		metrics:  metricsCollector,
	}

	if cfg.Interval > 0 {
		p.limiter = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}

	return p
}

// Run probes every target. Targets are handled strictly in order unless
// Concurrency is above one. The first fatal error stops the run.
func (p *Pipeline) Run(ctx context.Context, targets []int) error {
	p.board.SetTargets(len(targets))
	if p.metrics != nil {
		p.metrics.SetTargets(len(targets))
	}

	concurrency := p.config.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	log.Infof("Probing %d worlds, concurrency=%d", len(targets), concurrency)
	startTime := time.Now()

	if len(targets) == 0 {
		// Still show the status line so an empty run says so
		if err := p.reporter.ReportInterim(nil, 0); err != nil {
			return fmt.Errorf("report progress: %w", err)
		}
	}

	var err error
	if concurrency == 1 {
		err = p.runSequential(ctx, targets)
	} else {
		err = p.runPooled(ctx, targets, concurrency)
	}
	if err != nil {
		return err
	}

	log.Infof("Probe run complete: %d records from %d worlds in %v",
		p.board.Len(), len(targets), time.Since(startTime))
	return nil
}

func (p *Pipeline) runSequential(ctx context.Context, targets []int) error {
	for _, worldID := range targets {
		if err := p.probeWorld(ctx, worldID); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runPooled(parent context.Context, targets []int, concurrency int) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Semaphore for concurrency control
	sem := make(chan struct{}, concurrency)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for _, worldID := range targets {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := p.probeWorld(ctx, id); err != nil {
				errOnce.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(worldID)
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return parent.Err()
}

// probeWorld runs one probe and incorporates its averages
func (p *Pipeline) probeWorld(ctx context.Context, worldID int) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("world %d: %w", worldID, err)
		}
	}

	host := probe.HostFor(worldID, p.config.Domain)
	result, err := p.prober.Probe(ctx, host)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordProbeFailure()
		}
		return fmt.Errorf("world %d: %w", worldID, err)
	}

	averages, err := probe.ParseAverages(result.Output)
	if err != nil {
		return fmt.Errorf("world %d: %w", worldID, err)
	}

	log.WithFields(log.Fields{
		"world":     worldID,
		"host":      host,
		"records":   len(averages),
		"exit_code": result.ExitCode,
		"duration":  result.Duration.Milliseconds(),
	}).Debug("Probe finished")

	return p.incorporate(worldID, result, averages)
}

func (p *Pipeline) incorporate(worldID int, result probe.Result, averages []float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	interim := p.board.Incorporate(worldID, averages)

	if p.metrics != nil {
		p.metrics.RecordProbeDuration(result.Duration.Seconds())
		if len(averages) == 0 {
			p.metrics.RecordProbeUnmatched()
		} else {
			p.metrics.RecordProbeMatched()
		}
		for _, avg := range averages {
			p.metrics.RecordWorldLatency(worldID, avg)
		}
		if interim.Best != nil {
			p.metrics.SetBestLatency(interim.Best.AveragePing)
		}
	}

	if err := p.reporter.ReportInterim(interim.Best, interim.Total); err != nil {
		return fmt.Errorf("report progress: %w", err)
	}
	return nil
}
