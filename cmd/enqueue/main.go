// Command enqueue loads a JSON array of jobs and pushes them onto the
// processing queue for local runs.
//
// Usage:
//
//	go run ./cmd/enqueue -file data/jobs.json
//
// Jobs without an id get a fresh UUID. REDIS_URL and QUEUE_NAME are read
// from the environment or a .env file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	redisadapter "github.com/couchcryptid/advisory-alert-etl/internal/adapter/redis"
	"github.com/couchcryptid/advisory-alert-etl/internal/config"
	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
	"github.com/couchcryptid/advisory-alert-etl/internal/observability"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	file := flag.String("file", "", "path to a JSON array of jobs")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -file")
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, closeLog, err := observability.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog() //nolint:errcheck // best-effort on exit

	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	jobs, err := readJobs(f)
	if err != nil {
		return fmt.Errorf("%s: %w", *file, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := redisadapter.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	q := redisadapter.NewQueue(client, cfg.QueueName, cfg.VisibilityTimeout, cfg.MaxAttempts, logger)
	if err := q.Enqueue(ctx, jobs...); err != nil {
		return err
	}

	pending, err := q.Len(ctx)
	if err != nil {
		return err
	}
	logger.Info("jobs enqueued", "count", len(jobs), "queue", cfg.QueueName, "pending", pending)
	return nil
}

// readJobs decodes and validates a JSON array of jobs, filling missing IDs.
func readJobs(r io.Reader) ([]domain.Job, error) {
	var jobs []domain.Job
	if err := json.NewDecoder(r).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no jobs")
	}
	for i := range jobs {
		if jobs[i].ID == "" {
			jobs[i].ID = uuid.NewString()
		}
		if err := jobs[i].Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}
	return jobs, nil
}
