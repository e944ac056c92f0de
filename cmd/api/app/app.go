package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mark3748/slotplanner/internal/calendar"
	"github.com/mark3748/slotplanner/internal/eventstore"
)

// Config holds gateway configuration values.
type Config struct {
	Addr         string
	Env          string
	EventsFile   string
	BackupDir    string
	RedisAddr    string
	DatabaseURL  string
	CalendarID   string
	CalendarFile string
	// Optional MinIO bucket for backups; local BackupDir otherwise
	MinIOEndpoint string
	MinIOAccess   string
	MinIOSecret   string
	MinIOBucket   string
	MinIOPrefix   string
	MinIOUseSSL   bool
	BackupURLTTL  time.Duration
	// In-process limiter for every request
	RateLimitRPS   float64
	RateLimitBurst int
	// Redis-backed per-client limit on POST requests, per minute
	WriteLimit int
}

// GetEnv returns the environment variable value or default.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetConfig builds Config from environment.
func GetConfig() Config {
	cfg := Config{
		Addr:          GetEnv("ADDR", ":3000"),
		Env:           GetEnv("ENV", "dev"),
		EventsFile:    GetEnv("EVENTS_FILE", "events.json"),
		BackupDir:     GetEnv("BACKUP_DIR", ""),
		RedisAddr:     GetEnv("REDIS_ADDR", ""),
		DatabaseURL:   GetEnv("DATABASE_URL", ""),
		CalendarID:    GetEnv("CALENDAR_ID", "default"),
		CalendarFile:  GetEnv("CALENDAR_FILE", ""),
		MinIOEndpoint: GetEnv("MINIO_ENDPOINT", ""),
		MinIOAccess:   GetEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecret:   GetEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:   GetEnv("MINIO_BUCKET", "slotplanner"),
		MinIOPrefix:   GetEnv("MINIO_PREFIX", "backups/"),
		MinIOUseSSL:   GetEnv("MINIO_USE_SSL", "false") == "true",
		BackupURLTTL:  15 * time.Minute,
	}
	if v, err := strconv.ParseFloat(GetEnv("RATE_LIMIT_RPS", "0"), 64); err == nil {
		cfg.RateLimitRPS = v
	}
	if v, err := strconv.Atoi(GetEnv("RATE_LIMIT_BURST", "0")); err == nil {
		cfg.RateLimitBurst = v
	}
	if v, err := strconv.Atoi(GetEnv("WRITE_LIMIT_PER_MIN", "0")); err == nil {
		cfg.WriteLimit = v
	}
	if v, err := time.ParseDuration(GetEnv("BACKUP_URL_TTL", "15m")); err == nil {
		cfg.BackupURLTTL = v
	}
	return cfg
}

// LoadCalendar resolves the work calendar: a Postgres row when DatabaseURL is
// set, else the YAML file, else the WORK_HOURS/... environment variables.
// Work time lost at window ends to the slot length is logged as a warning.
func LoadCalendar(ctx context.Context, cfg Config) (*calendar.Calendar, error) {
	cal, err := loadCalendar(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if d := cal.DroppedPerDay(); d > 0 {
		log.Warn().
			Dur("slot", cal.SlotDuration()).
			Dur("dropped_per_day", d).
			Msg("slot length does not divide every work-hour window, trailing time is not allocatable")
	}
	return cal, nil
}

func loadCalendar(ctx context.Context, cfg Config) (*calendar.Calendar, error) {
	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("calendar db: %w", err)
		}
		defer pool.Close()
		return calendar.LoadCalendar(ctx, pool, cfg.CalendarID)
	case cfg.CalendarFile != "":
		return calendar.LoadFile(cfg.CalendarFile)
	default:
		c, err := calendar.FromEnv(GetEnv)
		if err != nil {
			return nil, err
		}
		return calendar.New(c)
	}
}

// NewMinIO returns a client when MINIO_ENDPOINT is set, nil otherwise.
func NewMinIO(cfg Config) (*minio.Client, error) {
	if cfg.MinIOEndpoint == "" {
		return nil, nil
	}
	return minio.New(cfg.MinIOEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIOAccess, cfg.MinIOSecret, ""),
		Secure: cfg.MinIOUseSSL,
	})
}

// NewStore opens the event file. Backups go to the bucket when mc is set,
// else to BackupDir, else next to the event file.
func NewStore(cfg Config, mc *minio.Client) *eventstore.Store {
	if mc != nil {
		return eventstore.New(cfg.EventsFile, eventstore.MinIOSink{Client: mc, Bucket: cfg.MinIOBucket, Prefix: cfg.MinIOPrefix})
	}
	dir := cfg.BackupDir
	if dir == "" {
		dir = filepath.Dir(cfg.EventsFile)
	}
	return eventstore.New(cfg.EventsFile, eventstore.LocalSink{Dir: dir})
}

// App wires dependencies and the Gin router.
type App struct {
	Cfg     Config
	Cal     *calendar.Calendar
	Store   *eventstore.Store
	Q       *redis.Client
	Presign *eventstore.Presigner
	R       *gin.Engine
	Now     func() time.Time
}

// NewApp constructs an App with injected dependencies. q may be nil.
func NewApp(cfg Config, cal *calendar.Calendar, store *eventstore.Store, q *redis.Client) *App {
	a := &App{Cfg: cfg, Cal: cal, Store: store, Q: q, R: gin.New(), Now: time.Now}
	a.R.Use(gin.Recovery())
	a.R.Use(RequestID())
	a.R.Use(CORS())
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		rl := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
		a.R.Use(RateLimit(rl))
	}
	a.R.Use(Logger())
	a.R.Use(Errors())
	return a
}
