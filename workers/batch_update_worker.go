// workers/batch_update_worker.go
package workers

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/Ameobea/quavertrack/services"
)

// BatchUpdateWorker keeps tracked users fresh without anyone asking: every
// interval it synchronizes the least-recently-synced user. This complements
// the /api/update_oldest trigger for deployments without an external cron.
type BatchUpdateWorker struct {
	sync     *services.SyncService
	interval time.Duration
}

func NewBatchUpdateWorker(syncService *services.SyncService, interval time.Duration) *BatchUpdateWorker {
	return &BatchUpdateWorker{
		sync:     syncService,
		interval: interval,
	}
}

// Start runs the scheduler until ctx is cancelled.
func (w *BatchUpdateWorker) Start(ctx context.Context) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Printf("[BATCH] ❌ Failed to create scheduler: %v", err)
		return
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() {
			w.runOnce(ctx)
		}),
	)
	if err != nil {
		log.Printf("[BATCH] ❌ Failed to schedule batch update job: %v", err)
		return
	}

	sched.Start()
	log.Printf("🔁 Batch update worker running (every %s)", w.interval)

	<-ctx.Done()
	if err := sched.Shutdown(); err != nil {
		log.Printf("[BATCH] ⚠️ Scheduler shutdown error: %v", err)
	}
	log.Println("⏹️ Batch update worker stopped")
}

func (w *BatchUpdateWorker) runOnce(ctx context.Context) {
	userID, err := w.sync.SynchronizeOldest(ctx)
	switch {
	case err == nil:
		log.Printf("[BATCH] ✅ Synchronized user %d", userID)
	case errors.Is(err, services.ErrUserNotFound):
		// Timestamp already advanced; the next cycle moves on
		log.Printf("[BATCH] ⚠️ User %d no longer exists on Quaver, skipped", userID)
	default:
		// Transient failure: timestamp untouched, same user retried next cycle
		log.Printf("[BATCH] ❌ Failed to synchronize user %d: %v", userID, err)
	}
}
