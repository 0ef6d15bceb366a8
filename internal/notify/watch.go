package notify

import (
	"github.com/KevinKickass/OpenWardCore/internal/bed"
	"github.com/KevinKickass/OpenWardCore/internal/queue"
	"github.com/KevinKickass/OpenWardCore/internal/turnover"
	"github.com/jonboulle/clockwork"
)

// Watch subscribes the dispatcher to every committed change of the engine.
func Watch(d *Dispatcher, beds *bed.Registry, turnovers *turnover.Scheduler, queues *queue.Manager, clock clockwork.Clock) {
	beds.OnTransition(func(t bed.Transition) {
		d.Publish(FromTransition(t))
	})
	turnovers.OnChange(func(rec turnover.Record) {
		d.Publish(FromTurnover(rec))
	})
	queues.OnEvent(func(ev queue.Event) {
		d.Publish(FromQueue(ev, clock.Now()))
	})
}
