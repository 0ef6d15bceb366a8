package ward

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/KevinKickass/OpenWardCore/internal/config"
	"github.com/KevinKickass/OpenWardCore/internal/discharge"
	"github.com/KevinKickass/OpenWardCore/internal/queue"
	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Store is everything the engine persists. storage.PostgresClient and
// storage.MemoryStore both implement it.
type Store interface {
	bed.Store
	turnover.Store
	queue.Store
	Ping(ctx context.Context) error
	Close()
}

// Engine owns the bed registry, turnover scheduler, patient queues and the
// discharge coordinator that ties them together.
type Engine struct {
	Clock       clockwork.Clock
	Store       Store
	Beds        *bed.Registry
	Ledger      *turnover.Ledger
	Turnovers   *turnover.Scheduler
	Queues      *queue.Manager
	Coordinator *discharge.Coordinator
	Routing     config.QueueConfig

	logger *zap.Logger
}

// Census is a point-in-time summary of the ward.
type Census struct {
	Beds            map[bed.State]int `json:"beds"`
	TotalBeds       int               `json:"total_beds"`
	ActiveTurnovers int               `json:"active_turnovers"`
	Queued          map[string]int    `json:"queued"`
}

func NewEngine(store Store, cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) *Engine {
	beds := bed.NewRegistry(store, clock, logger.Named("beds"))
	ledger := turnover.NewLedger(store)
	scheduler := turnover.NewScheduler(ledger, cfg.Turnover, clock, logger.Named("turnovers"))
	queues := queue.NewManager(store, clock, logger.Named("queues"))
	coordinator := discharge.NewCoordinator(beds, scheduler, queues, cfg.Queue, cfg.Turnover, clock, logger.Named("discharge"))

	return &Engine{
		Clock:       clock,
		Store:       store,
		Beds:        beds,
		Ledger:      ledger,
		Turnovers:   scheduler,
		Queues:      queues,
		Coordinator: coordinator,
		Routing:     cfg.Queue,
		logger:      logger,
	}
}

// Start loads persisted state, re-arms the timers of interrupted turnovers
// and repairs beds a crash left behind. Observers must be registered before
// Start so that recovered completions are published.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Beds.Load(ctx); err != nil {
		return err
	}
	if err := e.Queues.Load(ctx); err != nil {
		return err
	}

	recovered, err := e.Turnovers.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover turnovers: %w", err)
	}
	repaired := e.Coordinator.Reconcile(ctx)

	e.logger.Info("Ward engine started",
		zap.Int("beds", len(e.Beds.List())),
		zap.Int("recovered_turnovers", recovered),
		zap.Int("reconciled_beds", repaired))
	return nil
}

// Stop disarms turnover timers and completion retries. Persisted turnovers
// resume on the next Start.
func (e *Engine) Stop() {
	e.Turnovers.Stop()
	e.Coordinator.Stop()
}

func (e *Engine) Census() Census {
	c := Census{
		Beds:   map[bed.State]int{},
		Queued: map[string]int{},
	}
	for _, b := range e.Beds.List() {
		c.Beds[b.State]++
		c.TotalBeds++
		if b.State == bed.StateCleaning {
			c.ActiveTurnovers++
		}
	}
	for _, qt := range e.Queues.QueueTypes() {
		c.Queued[qt] = len(e.Queues.List(qt))
	}
	return c
}
