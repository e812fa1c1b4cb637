package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"safesite-cloud/internal/audit"
	"safesite-cloud/internal/cache"
	flush "safesite-cloud/internal/flush/application"
	flushredis "safesite-cloud/internal/flush/infrastructure/redis"
	flushhttp "safesite-cloud/internal/flush/interfaces/http"
	historypg "safesite-cloud/internal/history/infrastructure/postgres"
	ingestion "safesite-cloud/internal/ingestion/application"
	ingestredis "safesite-cloud/internal/ingestion/infrastructure/redis"
	ingesthttp "safesite-cloud/internal/ingestion/interfaces/http"
	masterdatapg "safesite-cloud/internal/masterdata/infrastructure/postgres"
	media "safesite-cloud/internal/media/application"
	mediapg "safesite-cloud/internal/media/infrastructure/postgres"
	"safesite-cloud/internal/observability/metrics"
	stats "safesite-cloud/internal/stats/application"
	statsredis "safesite-cloud/internal/stats/infrastructure/redis"
	statshttp "safesite-cloud/internal/stats/interfaces/http"
	"safesite-cloud/internal/stream"
	streamhttp "safesite-cloud/internal/stream/interfaces/http"
	weather "safesite-cloud/internal/weather/application"
	weatherredis "safesite-cloud/internal/weather/infrastructure/redis"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	alarmStreamTimeout    = 15 * time.Minute
	accidentStreamTimeout = time.Hour
	statStreamTimeout     = time.Hour
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)
	ctx := context.Background()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	redisClient := cache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	if err := cache.Ping(ctx, redisClient); err != nil {
		logger.Fatalf("redis ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	historyRepo, err := historypg.NewRepository(db)
	if err != nil {
		logger.Fatalf("history repo error: %v", err)
	}

	alarmBroker := stream.NewBroker("alarm", alarmStreamTimeout, logger)
	accidentBroker := stream.NewBroker("accident", accidentStreamTimeout, logger)
	statBroker := stream.NewBroker("stat", statStreamTimeout, logger)
	go alarmBroker.Start(ctx)
	go accidentBroker.Start(ctx)
	go statBroker.Start(ctx)

	statsService := stats.NewService(statsredis.NewStore(redisClient), statBroker, logger)
	initializer := stats.NewInitializer(historyRepo, statsService, systemClock{}, logger)

	ingestStore := ingestredis.NewStore(redisClient)
	siteRepo := masterdatapg.NewSiteRepository(db)

	ingestOpts := []ingestion.Option{ingestion.WithSites(siteRepo)}
	if cfg.MediaBaseURL != "" {
		videoRepo, err := mediapg.NewVideoRepository(db)
		if err != nil {
			logger.Fatalf("video repo error: %v", err)
		}
		mediaService, err := media.NewService(videoRepo, cfg.MediaBaseURL, systemClock{}, logger)
		if err != nil {
			logger.Fatalf("media service error: %v", err)
		}
		ingestOpts = append(ingestOpts, ingestion.WithMedia(mediaService))
	}
	ingestService, err := ingestion.NewService(ingestStore, ingestStore, ingestStore,
		statsService, alarmBroker, accidentBroker, systemClock{}, logger, ingestOpts...)
	if err != nil {
		logger.Fatalf("ingestion service error: %v", err)
	}
	ingestHandler, err := ingesthttp.NewHandler(ingestService)
	if err != nil {
		logger.Fatalf("ingestion handler error: %v", err)
	}

	flushCfg, err := flush.LoadConfig()
	if err != nil {
		logger.Fatalf("pipeline config error: %v", err)
	}
	flushJob := flush.NewJob(flushredis.NewBuffer(redisClient), historyRepo, logger)
	flushScheduler := flush.NewScheduler(flushJob, flushCfg.Schedule.DailyAt, logger)
	go flushScheduler.Start(ctx)

	if flushCfg.ReplayOnStart {
		if err := initializer.Replay(ctx); err != nil {
			logger.Fatalf("stats replay error: %v", err)
		}
	}

	if cfg.WeatherAPIURL != "" {
		updater, err := weather.NewUpdater(cfg.WeatherAPIURL, cfg.WeatherAPIKey,
			cfg.WeatherLat, cfg.WeatherLng, cfg.WeatherInterval,
			weatherredis.NewSetter(redisClient), logger)
		if err != nil {
			logger.Fatalf("weather updater error: %v", err)
		}
		go updater.Start(ctx)
	}

	dashboardHandler, err := statshttp.NewDashboardHandler(statsService)
	if err != nil {
		logger.Fatalf("dashboard handler error: %v", err)
	}
	replayHandler := statshttp.NewReplayHandler(initializer, auditRepo, logger)
	triggerHandler := flushhttp.NewTriggerHandler(flushScheduler, auditRepo, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/alarm/", ingestHandler)
	mux.Handle("/api/accident/", ingestHandler)
	mux.Handle("/api/events/dashboard", dashboardHandler)
	mux.Handle("/api/events/dashboard/", dashboardHandler)
	mux.Handle("/api/sse/alarm", streamhttp.NewStreamHandler(alarmBroker, logger))
	mux.Handle("/api/sse/accident", streamhttp.NewStreamHandler(accidentBroker, logger))
	mux.Handle("/api/sse/stat", streamhttp.NewStreamHandler(statBroker, logger))
	mux.Handle("/api/test/scheduler/run", triggerHandler)
	mux.Handle("/api/admin/stats/replay", replayHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	HTTPAddr        string
	MediaBaseURL    string
	WeatherAPIURL   string
	WeatherAPIKey   string
	WeatherLat      float64
	WeatherLng      float64
	WeatherInterval time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:     getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		RedisAddr:       getenvDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getenvDefault("REDIS_PASSWORD", ""),
		RedisDB:         getenvIntDefault("REDIS_DB", 0),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		MediaBaseURL:    getenvDefault("MEDIA_BASE_URL", ""),
		WeatherAPIURL:   getenvDefault("WEATHER_API_URL", ""),
		WeatherAPIKey:   getenvDefault("WEATHER_API_KEY", ""),
		WeatherLat:      getenvFloatDefault("WEATHER_LAT", 37.5665),
		WeatherLng:      getenvFloatDefault("WEATHER_LNG", 126.978),
		WeatherInterval: getenvDuration("WEATHER_POLL_INTERVAL", 30*time.Minute),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the logging wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
