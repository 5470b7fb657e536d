package river

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"
)

// Config schedules the periodic jobs. A zero interval disables its job.
type Config struct {
	MaxWorkers    int
	PassInterval  time.Duration
	SweepInterval time.Duration
}

// Setup creates a River client with the workers registered and runs River's
// internal migrations. The caller must fill in jobs, then call
// client.Start() to begin processing and client.Stop() for graceful shutdown.
func Setup(ctx context.Context, db *sql.DB, jobs *Jobs, cfg Config) (*Client, error) {
	driver := riversqlite.New(db)

	// River's own tables are separate from the app's goose migrations.
	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("creating river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("running river migrations: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &QueuePassWorker{jobs: jobs})
	river.AddWorker(workers, &EntitlementSweepWorker{jobs: jobs})
	river.AddWorker(workers, &NotificationWorker{jobs: jobs})

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 2
	}

	client, err := river.NewClient(driver, &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: periodicJobs(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return client, nil
}

func periodicJobs(cfg Config) []*river.PeriodicJob {
	var out []*river.PeriodicJob
	add := func(every time.Duration, args river.JobArgs) {
		if every <= 0 {
			return
		}
		out = append(out, river.NewPeriodicJob(
			river.PeriodicInterval(every),
			func() (river.JobArgs, *river.InsertOpts) { return args, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	add(cfg.PassInterval, QueuePassArgs{})
	add(cfg.SweepInterval, EntitlementSweepArgs{})
	return out
}
