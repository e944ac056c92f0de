package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apppkg "github.com/mark3748/slotplanner/cmd/api/app"
	"github.com/mark3748/slotplanner/cmd/api/backups"
	"github.com/mark3748/slotplanner/cmd/api/events"
	"github.com/mark3748/slotplanner/cmd/api/metrics"
	"github.com/mark3748/slotplanner/cmd/api/migrations"
	"github.com/mark3748/slotplanner/cmd/api/plan"
	"github.com/mark3748/slotplanner/internal/eventstore"
	"github.com/mark3748/slotplanner/internal/ratelimit"
)

func main() {
	_ = godotenv.Load()
	cfg := apppkg.GetConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx := context.Background()

	// Migrate (embedded goose) using pgx stdlib driver
	if cfg.DatabaseURL != "" {
		sqldb, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("sql open for goose")
		}
		if err := migrations.Up(ctx, sqldb); err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
		sqldb.Close()
	}

	cal, err := apppkg.LoadCalendar(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load calendar")
	}
	log.Info().
		Str("tz", cal.Location().String()).
		Int("slots_per_week", cal.Capacity()).
		Msg("calendar loaded")

	mc, err := apppkg.NewMinIO(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("minio init")
	}
	store := apppkg.NewStore(cfg, mc)

	// Redis client (optional)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
		defer rdb.Close()
	}

	a := apppkg.NewApp(cfg, cal, store, rdb)
	if mc != nil {
		sink := eventstore.MinIOSink{Client: mc, Bucket: cfg.MinIOBucket, Prefix: cfg.MinIOPrefix}
		a.Presign = &eventstore.Presigner{Client: mc, Sink: sink, MaxTTL: cfg.BackupURLTTL}
	}
	routes(a)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.R,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// the event stream holds its response open
		WriteTimeout:   0,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	log.Info().Str("addr", cfg.Addr).Str("events_file", cfg.EventsFile).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("listen")
	}
}

func routes(a *apppkg.App) {
	a.R.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })
	a.R.GET("/metrics", metrics.Handler())

	writes := []gin.HandlerFunc{}
	if a.Q != nil && a.Cfg.WriteLimit > 0 {
		rl := ratelimit.New(a.Q, a.Cfg.WriteLimit, time.Minute, "rl:writes:")
		writes = append(writes, rl.Middleware(ratelimit.ClientIP, metrics.RejectedOn("writes")))
	}

	a.R.GET("/events", events.List(a))
	a.R.POST("/events", append(writes, events.Replace(a))...)
	a.R.GET("/events/stream", events.Stream(a))
	a.R.GET("/grid", plan.Grid(a))
	a.R.POST("/plan", append(writes, plan.Plan(a))...)
	a.R.GET("/backups/:name/url", backups.URL(a))
}
