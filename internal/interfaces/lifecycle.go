package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenWardCore/internal/config"
	"github.com/KevinKickass/OpenWardCore/internal/provision"
	"github.com/KevinKickass/OpenWardCore/internal/ward"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string      `json:"state"`
	Census           ward.Census `json:"census"`
	ConnectedClients int         `json:"connected_clients"`
	DroppedEvents    int64       `json:"dropped_events"`
}

type LifecycleManager interface {
	Config() *config.Config
	Engine() *ward.Engine
	GetCurrentStatus() SystemStatus
	Ping(ctx context.Context) error
	ApplyLayout(ctx context.Context, layout *provision.Layout) (provision.Result, error)
	Shutdown(ctx context.Context) error
}
