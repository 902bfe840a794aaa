package runtime

import (
	goruntime "runtime"
	"time"

	"github.com/moduforge/moduforge-go/pkg/middleware"
)

// Tier names one of the three driver facades, picked by DetectTier based on
// available CPU parallelism. This is a configuration policy, not a
// correctness requirement, per spec.md §4.9.
type Tier string

const (
	TierSync  Tier = "sync"
	TierAsync Tier = "async"
	TierActor Tier = "actor"
)

// TierConfig carries the knobs that scale with the chosen tier, mirroring
// the tunable-defaults style of core/pkg/observability.Config.DefaultConfig.
type TierConfig struct {
	Tier             Tier
	QueueSize        int
	MailboxSize      int
	DispatchTimeout  time.Duration
	MiddlewareStage  time.Duration
	HistoryLimit     int
}

// DetectTier picks a driver tier from the detected CPU count: a
// single-core/low-parallelism host gets the synchronous driver (no benefit
// to an extra goroutine hop), a moderately parallel host gets the async
// worker-pool driver, and a highly parallel host gets the actor runtime so
// the transaction-processor and state roles can run on distinct cores.
func DetectTier() TierConfig {
	cpus := goruntime.NumCPU()

	switch {
	case cpus <= 1:
		return TierConfig{
			Tier:            TierSync,
			DispatchTimeout: DefaultAsyncTimeout,
			MiddlewareStage: middleware.DefaultTimeout,
			HistoryLimit:    256,
		}
	case cpus <= 4:
		return TierConfig{
			Tier:            TierAsync,
			QueueSize:       64,
			DispatchTimeout: DefaultAsyncTimeout,
			MiddlewareStage: middleware.DefaultTimeout,
			HistoryLimit:    512,
		}
	default:
		return TierConfig{
			Tier:            TierActor,
			MailboxSize:     256,
			DispatchTimeout: DefaultAsyncTimeout,
			MiddlewareStage: middleware.DefaultTimeout,
			HistoryLimit:    1024,
		}
	}
}
