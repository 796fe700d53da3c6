// Package detector stands in for the camera and recognition model of a
// self-checkout lane.
//
// The simulator fires at a fixed interval, picks one catalog product
// uniformly at random and delivers it after a randomized inference delay.
// A detection is delivered only if the run that scheduled it is still live;
// otherwise it is dropped, the same way a live camera feed drops frames.
package detector

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/visionlane/backend/internal/domain"
)

// SimulatorConfig holds timing and confidence settings for the simulator
type SimulatorConfig struct {
	Interval          time.Duration
	MinDelay          time.Duration
	MaxDelay          time.Duration
	DefaultConfidence float64
	Rand              *rand.Rand
}

// Stats contains simulator counters
type Stats struct {
	Fired     uint64 `json:"fired"`
	Emitted   uint64 `json:"emitted"`
	Discarded uint64 `json:"discarded"`
	Running   bool   `json:"running"`
}

// scanRun is one Start..Stop span. Detections scheduled by a run are only
// delivered while its stop channel is open.
type scanRun struct {
	epoch uint64
	stop  chan struct{}
}

// Simulator is a randomized detection source
type Simulator struct {
	catalog domain.CatalogRepository
	config  SimulatorConfig
	logger  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
	run *scanRun
	wg  sync.WaitGroup

	fired     atomic.Uint64
	emitted   atomic.Uint64
	discarded atomic.Uint64
}

// NewSimulator creates a simulator over the catalog
func NewSimulator(catalog domain.CatalogRepository, config SimulatorConfig, logger *zap.Logger) *Simulator {
	if config.Interval <= 0 {
		config.Interval = 3500 * time.Millisecond
	}
	if config.MinDelay < 0 {
		config.MinDelay = 0
	}
	if config.MaxDelay < config.MinDelay {
		config.MaxDelay = config.MinDelay
	}
	if config.DefaultConfidence == 0 {
		config.DefaultConfidence = 0.95
	}
	rng := config.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Simulator{
		catalog: catalog,
		config:  config,
		logger:  logger,
		rng:     rng,
	}
}

// Start begins a new run stamped with epoch, replacing any previous run.
// It never blocks.
func (s *Simulator) Start(epoch uint64, sink func(domain.Detection)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		close(s.run.stop)
	}
	run := &scanRun{epoch: epoch, stop: make(chan struct{})}
	s.run = run

	s.wg.Add(1)
	go s.loop(run, sink)
}

// Stop ends the current run. Pending detections of that run are dropped.
// It does not wait for them to drain.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		close(s.run.stop)
		s.run = nil
	}
}

// Close stops the simulator and waits for every goroutine to exit
func (s *Simulator) Close() {
	s.Stop()
	s.wg.Wait()
}

// Stats returns simulator counters
func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	running := s.run != nil
	s.mu.Unlock()

	return Stats{
		Fired:     s.fired.Load(),
		Emitted:   s.emitted.Load(),
		Discarded: s.discarded.Load(),
		Running:   running,
	}
}

func (s *Simulator) loop(run *scanRun, sink func(domain.Detection)) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-run.stop:
			return
		case <-ticker.C:
			s.fire(run, sink)
		}
	}
}

func (s *Simulator) fire(run *scanRun, sink func(domain.Detection)) {
	products := s.catalog.All()
	if len(products) == 0 {
		return
	}

	s.mu.Lock()
	product := products[s.rng.IntN(len(products))]
	delay := s.config.MinDelay
	if spread := s.config.MaxDelay - s.config.MinDelay; spread > 0 {
		delay += time.Duration(s.rng.Int64N(int64(spread) + 1))
	}
	s.mu.Unlock()

	s.fired.Add(1)
	det := domain.Detection{
		Product:    product,
		Confidence: s.confidenceOf(product),
		Epoch:      run.epoch,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-run.stop:
			s.drop(det)
			return
		case <-timer.C:
		}

		// The run may have ended while the timer fired.
		select {
		case <-run.stop:
			s.drop(det)
			return
		default:
		}

		s.emitted.Add(1)
		sink(det)
	}()
}

func (s *Simulator) drop(det domain.Detection) {
	s.discarded.Add(1)
	s.logger.Debug("detection discarded after scan stopped",
		zap.String("product_id", det.Product.ID),
		zap.Uint64("epoch", det.Epoch),
	)
}

func (s *Simulator) confidenceOf(p domain.Product) float64 {
	if p.SimulatedBaseConfidence != nil {
		return *p.SimulatedBaseConfidence
	}
	return s.config.DefaultConfidence
}
