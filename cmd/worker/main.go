package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apppkg "github.com/mark3748/slotplanner/cmd/api/app"
	"github.com/mark3748/slotplanner/cmd/api/events"
	"github.com/mark3748/slotplanner/internal/calendar"
	"github.com/mark3748/slotplanner/internal/distribute"
	"github.com/mark3748/slotplanner/internal/eventstore"
	"github.com/mark3748/slotplanner/internal/schedule"
)

const (
	queueKey     = "jobs"
	resultPrefix = "plan_result:"
	resultTTL    = 24 * time.Hour
)

type Config struct {
	apppkg.Config
	ReplanSchedule string
}

func cfg() Config {
	_ = godotenv.Load()
	return Config{
		Config:         apppkg.GetConfig(),
		ReplanSchedule: apppkg.GetEnv("REPLAN_SCHEDULE", ""),
	}
}

type Job struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type PlanJob struct {
	Base   string `json:"base"`
	Commit bool   `json:"commit"`
}

// PlanResult is stored under plan_result:<job id>.
type PlanResult struct {
	*schedule.Result
	Committed bool   `json:"committed"`
	Backup    string `json:"backup,omitempty"`
	Error     string `json:"error,omitempty"`
	// Set when the batch does not fit the week
	CapacityNeeded    int `json:"capacity_needed,omitempty"`
	CapacityAvailable int `json:"capacity_available,omitempty"`
}

type planner struct {
	cal   *calendar.Calendar
	store *eventstore.Store
	rdb   *redis.Client
	now   func() time.Time
}

// plan runs one planning pass over the stored events. Planning failures are
// reported in the result; only storage failures are returned as errors.
func (p *planner) plan(ctx context.Context, j PlanJob) (PlanResult, error) {
	base, err := schedule.ParseBase(p.cal, j.Base, p.now())
	if err != nil {
		return PlanResult{Error: fmt.Sprintf("invalid base %q", j.Base)}, nil
	}
	tasks, err := p.store.Load()
	if err != nil {
		return PlanResult{}, fmt.Errorf("load events: %w", err)
	}
	res, err := schedule.Run(ctx, p.cal, base, tasks)
	var capErr *distribute.CapacityError
	if errors.As(err, &capErr) {
		return PlanResult{Error: capErr.Error(), CapacityNeeded: capErr.Needed, CapacityAvailable: capErr.Available}, nil
	}
	if err != nil {
		return PlanResult{Error: err.Error()}, nil
	}
	out := PlanResult{Result: &res}
	if j.Commit {
		backup, err := p.store.Save(ctx, res.Tasks)
		if err != nil {
			return PlanResult{}, fmt.Errorf("save events: %w", err)
		}
		out.Committed = true
		out.Backup = backup
		events.Publish(ctx, p.rdb, events.Notification{Type: events.TypeReplaced, Data: map[string]any{"count": len(res.Tasks), "backup": backup}})
	}
	return out, nil
}

type planFunc func(ctx context.Context, j PlanJob) (PlanResult, error)

// processQueueJob pops one job and handles it. The returned error is fatal
// only for queue access; job failures are logged.
func processQueueJob(ctx context.Context, rdb *redis.Client, timeout time.Duration, run planFunc) error {
	res, err := rdb.BLPop(ctx, timeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(res) < 2 {
		return nil
	}
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		log.Error().Err(err).Msg("unmarshal job")
		return nil
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	logger := log.With().Str("job_id", job.ID).Str("type", job.Type).Logger()
	ctx = logger.WithContext(ctx)
	switch job.Type {
	case "plan":
		var pj PlanJob
		if len(job.Data) > 0 {
			if err := json.Unmarshal(job.Data, &pj); err != nil {
				logger.Error().Err(err).Msg("unmarshal plan job")
				return nil
			}
		}
		out, err := run(ctx, pj)
		if err != nil {
			logger.Error().Err(err).Msg("plan job")
			out = PlanResult{Error: err.Error()}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return err
		}
		if err := rdb.Set(ctx, resultPrefix+job.ID, b, resultTTL).Err(); err != nil {
			return err
		}
		logger.Info().Bool("committed", out.Committed).Str("error", out.Error).Msg("plan job done")
	default:
		logger.Warn().Msg("unknown job type")
	}
	return nil
}

// Enqueue pushes a plan job and returns its id.
func Enqueue(ctx context.Context, rdb *redis.Client, pj PlanJob) (string, error) {
	data, err := json.Marshal(pj)
	if err != nil {
		return "", err
	}
	job := Job{ID: uuid.NewString(), Type: "plan", Data: data}
	b, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return job.ID, rdb.RPush(ctx, queueKey, b).Err()
}

// scheduleReplans enqueues a committing plan for the current day on expr.
func scheduleReplans(rdb *redis.Client, loc *time.Location, expr string) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(expr, func() {
		ctx := context.Background()
		base := time.Now().In(loc).Format("2006-01-02")
		id, err := Enqueue(ctx, rdb, PlanJob{Base: base, Commit: true})
		if err != nil {
			log.Error().Err(err).Msg("enqueue replan")
			return
		}
		log.Info().Str("job_id", id).Str("base", base).Msg("replan enqueued")
	})
	if err != nil {
		return nil, fmt.Errorf("replan schedule %q: %w", expr, err)
	}
	return c, nil
}

func main() {
	c := cfg()
	if c.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	ctx := context.Background()

	cal, err := apppkg.LoadCalendar(ctx, c.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("load calendar")
	}
	mc, err := apppkg.NewMinIO(c.Config)
	if err != nil {
		log.Error().Err(err).Msg("minio init")
	}

	addr := c.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("redis ping failed (queue not active yet)")
	}
	defer rdb.Close()

	p := &planner{cal: cal, store: apppkg.NewStore(c.Config, mc), rdb: rdb, now: time.Now}

	if c.ReplanSchedule != "" {
		cr, err := scheduleReplans(rdb, cal.Location(), c.ReplanSchedule)
		if err != nil {
			log.Fatal().Err(err).Msg("cron")
		}
		cr.Start()
		defer cr.Stop()
	}

	log.Info().Str("events_file", c.EventsFile).Msg("worker started")
	for {
		if err := processQueueJob(ctx, rdb, 0, p.plan); err != nil {
			log.Error().Err(err).Msg("blpop")
			time.Sleep(time.Second)
		}
	}
}
