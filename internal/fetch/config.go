package fetch

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ligustah/fetchkit/internal/config"
	"github.com/ligustah/fetchkit/internal/database"
	"github.com/ligustah/fetchkit/internal/network"
	"github.com/ligustah/fetchkit/internal/storage"
)

// Notifier receives the progress-report interval of the namespace it is
// configured for. A Notifier that also implements listener.Listener is
// registered with the namespace's listener coordinator.
type Notifier interface {
	SetProgressInterval(d time.Duration)
}

// Configuration is everything needed to build the subsystem graph of a
// namespace. The embedded Config holds the serializable settings, the other
// fields are optional runtime collaborators.
type Configuration struct {
	config.Config

	// Notifier, if set, gets the progress interval once the graph is built.
	Notifier Notifier

	// Database replaces the badger-backed manager. It is closed on teardown.
	Database database.Manager

	// Storage replaces the resolver opened from TempBucket. It is not closed
	// on teardown.
	Storage storage.Resolver

	// Prober replaces the interface-based network probe.
	Prober network.Prober

	// NetworkPollInterval is how often the network is probed while observed.
	// Default: 5s
	NetworkPollInterval time.Duration

	Logger *zap.Logger
	Clock  clock.Clock
}

// NewConfiguration returns a Configuration with default settings for namespace.
func NewConfiguration(namespace string) Configuration {
	cfg := config.Default()
	cfg.Namespace = namespace
	return Configuration{Config: cfg}
}
