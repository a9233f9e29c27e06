package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/technosupport/ts-sentinel/internal/ai"
	"github.com/technosupport/ts-sentinel/internal/anomaly"
	"github.com/technosupport/ts-sentinel/internal/bridge"
	"github.com/technosupport/ts-sentinel/internal/bus"
	"github.com/technosupport/ts-sentinel/internal/crypto"
	"github.com/technosupport/ts-sentinel/internal/data"
	"github.com/technosupport/ts-sentinel/internal/embed"
	"github.com/technosupport/ts-sentinel/internal/entities"
	"github.com/technosupport/ts-sentinel/internal/events"
	"github.com/technosupport/ts-sentinel/internal/frames"
	"github.com/technosupport/ts-sentinel/internal/media"
	"github.com/technosupport/ts-sentinel/internal/notify"
	"github.com/technosupport/ts-sentinel/internal/protect"
	"github.com/technosupport/ts-sentinel/internal/settings"
)

const serviceName = "ts-sentinel"

// fileConfig is the optional on-disk configuration; every field has a working
// default so the file can be absent entirely.
type fileConfig struct {
	Bus struct {
		Root           string `yaml:"root"`
		PublishRetries int    `yaml:"publish_retries"`
	} `yaml:"bus"`
	Pipeline struct {
		QueueCapacity int `yaml:"queue_capacity"`
		FrameCount    int `yaml:"frame_count"`
	} `yaml:"pipeline"`
	Bridge struct {
		MotionResetSeconds    int `yaml:"motion_reset_seconds"`
		OccupancyResetSeconds int `yaml:"occupancy_reset_seconds"`
	} `yaml:"bridge"`
}

func loadFileConfig() fileConfig {
	var cfg fileConfig
	raw, err := os.ReadFile("config/default.yaml")
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[WARN] Config: cannot read config/default.yaml: %v", err)
		}
		return cfg
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		log.Printf("[WARN] Config: malformed config/default.yaml: %v", err)
	}
	return cfg
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[WARN] Config: %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[WARN] Config: %s=%q is not a number, using %g", key, v, def)
		return def
	}
	return f
}

func main() {
	cfg := loadFileConfig()

	// Database
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		env("DB_USER", "sentinel"), os.Getenv("DB_PASSWORD"),
		env("DB_HOST", "localhost"), env("DB_PORT", "5432"),
		env("DB_NAME", "sentinel"), env("DB_SSLMODE", "disable"))

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}
	repos := data.NewRepositories(db)

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: env("REDIS_ADDR", "localhost:6379")})

	// Keyring for API-key decryption and URL signing
	keyring := crypto.NewKeyring()
	if err := keyring.LoadFromEnv(); err != nil {
		log.Fatalf("Keyring init error: %v", err)
	}

	// Settings + prompt override file
	settingsSvc := settings.NewService(repos.Settings, keyring)
	promptFile := settings.NewPromptFile(env("PROMPT_FILE", "config/prompts.yaml"))
	prompts := &settings.PromptResolver{Service: settingsSvc, File: promptFile}

	// AI cost accounting
	costCap := ai.NewCostCap(rdb,
		envFloat("AI_DAILY_LIMIT_USD", 0),
		envFloat("AI_MONTHLY_LIMIT_USD", 0))
	usage := &ai.DBUsageRecorder{Usage: repos.AIUsage, Caps: costCap}

	// Provider chain, rebuilt per event so key and order changes apply
	// without a restart.
	aiFor := func(ctx context.Context) events.Describer {
		var providers []ai.Provider
		for _, tag := range settingsSvc.ProviderOrder(ctx) {
			key := settingsSvc.APIKey(ctx, tag)
			if key == "" {
				continue
			}
			switch tag {
			case ai.ProviderOpenAI:
				providers = append(providers, ai.NewOpenAIClient(key))
			case ai.ProviderGrok:
				providers = append(providers, ai.NewGrokClient(key))
			case ai.ProviderClaude:
				providers = append(providers, ai.NewClaudeClient(key))
			case ai.ProviderGemini:
				providers = append(providers, ai.NewGeminiClient(key))
			default:
				log.Printf("[WARN] Config: unknown provider %q in order, skipping", tag)
			}
		}
		return ai.NewService(providers, usage)
	}

	// Media layout, frame extraction, snapshots
	store := media.NewStore(env("DATA_DIR", "data"))
	extractor := frames.NewExtractor(store.ClipWorkDir())
	snapshots := media.NewSnapshotClient()

	signingKey, err := keyring.DeriveSigningKey()
	if err != nil {
		log.Fatalf("Signing key derivation error: %v", err)
	}
	signer := media.NewURLSigner(env("PUBLIC_BASE_URL", "http://localhost:"+env("PORT", "8080")), signingKey)

	// NATS bus
	var publisher *bus.Publisher
	nc, err := nats.Connect(env("NATS_URL", nats.DefaultURL), nats.Name(serviceName))
	if err != nil {
		log.Printf("[WARN] Bus: NATS connect failed: %v. Publishing disabled.", err)
	} else {
		defer nc.Close()
	}
	retries := cfg.Bus.PublishRetries
	if retries == 0 {
		retries = 3
	}
	publisher = bus.NewPublisher(nc, cfg.Bus.Root, retries)

	// Smart-home bridge, mirrored onto the bus
	bridgeCfg := bridge.DefaultConfig()
	if cfg.Bridge.MotionResetSeconds > 0 {
		bridgeCfg.MotionReset = time.Duration(cfg.Bridge.MotionResetSeconds) * time.Second
	}
	if cfg.Bridge.OccupancyResetSeconds > 0 {
		bridgeCfg.OccupancyReset = time.Duration(cfg.Bridge.OccupancyResetSeconds) * time.Second
	}
	sensors := bridge.New(bridgeCfg, func(cameraID uuid.UUID, kind string, on bool) {
		if err := publisher.PublishSensor(cameraID, kind, on); err != nil {
			log.Printf("[WARN] Bridge: sensor publish failed: %v", err)
		}
	})

	// Push gateway (optional)
	var pusher *notify.Pusher
	if base := os.Getenv("PUSH_GATEWAY_URL"); base != "" {
		pusher = notify.NewPusher(base, os.Getenv("PUSH_GATEWAY_TOKEN"))
	}

	// Embedding sidecar (optional)
	var embedder events.Embedder
	if base := os.Getenv("EMBED_URL"); base != "" {
		embedder = embed.NewClient(base)
	}

	// Audio transcription (optional)
	var transcriber events.AudioTranscriber
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if key := env("TRANSCRIBE_API_KEY", settingsSvc.APIKey(bootCtx, ai.ProviderOpenAI)); key != "" {
		transcriber = ai.NewTranscriber(key)
	}
	bootCancel()

	// Entity recognition
	entitySvc := entities.NewService(db, repos)
	entitySvc.ThresholdFor = func(ctx context.Context, entityType string) float64 {
		if entityType == data.EntityVehicle {
			return settingsSvc.VehicleThreshold(ctx)
		}
		return settingsSvc.PersonThreshold(ctx)
	}
	entitySvc.AutoCreate = func(ctx context.Context, entityType string) bool {
		if entityType == data.EntityVehicle {
			return settingsSvc.AutoCreateVehicles(ctx)
		}
		return settingsSvc.AutoCreatePersons(ctx)
	}
	scorer := anomaly.NewScorer(repos.Events)
	counter := events.NewCounter(rdb, repos.Events)

	fanout := &events.Fanout{
		Repos:    repos,
		Sensors:  sensors,
		Bus:      publisher,
		Entities: entitySvc,
		Costs:    costCap,
		Anomaly:  scorer,
		Signer:   signer,
		Settings: settingsSvc,
		Counts:   counter,
	}
	if pusher != nil {
		fanout.Push = pusher
	}

	// Snapshot fetch: protect cameras expose a controller-side snapshot
	// endpoint; rtsp/usb events already carry a frame.
	protectURL := os.Getenv("PROTECT_URL")
	protectKey := os.Getenv("PROTECT_API_KEY")
	snapshotFor := func(ctx context.Context, camera *data.Camera) ([]byte, error) {
		if camera.SourceKind != data.SourceProtect || protectURL == "" {
			return nil, fmt.Errorf("no snapshot source for camera %s", camera.Name)
		}
		url := fmt.Sprintf("%s/proxy/protect/api/cameras/%s/snapshot", protectURL, camera.ProtectID)
		return snapshots.Fetch(ctx, url)
	}

	pipeline := events.NewPipeline(events.PipelineConfig{
		Repos:       repos,
		AIFor:       aiFor,
		Extractor:   extractor,
		Snapshot:    snapshotFor,
		CostGate:    costCap,
		Transcriber: transcriber,
		Embedder:    embedder,
		Matcher:     entitySvc,
		Store:       store,
		Fanout:      fanout,
		Prompts:     prompts,
		FrameCount:  cfg.Pipeline.FrameCount,
	})

	queue := events.NewQueue(cfg.Pipeline.QueueCapacity)
	processor := events.NewProcessor(queue, envInt("EVENT_WORKER_COUNT", events.DefaultWorkers), pipeline.Process)

	var clips events.ClipFetcher
	if protectURL != "" {
		clips = protect.NewClipClient(protectURL, protectKey)
	}
	handler := events.NewHandler(repos.Cameras, processor, clips, store.ClipPath)

	// Root context: cancelled on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promptFile.Watch(ctx)
	processor.Start()

	// Protect controller subscription
	if protectURL != "" {
		registerProtectCameras(ctx, repos.Cameras, sensors)
		sub := protect.NewSubscriber(protectURL+"/proxy/protect/ws/updates", protectKey, func(raw *protect.RawEvent) {
			handler.HandleProtect(ctx, raw)
		})
		go sub.Run(ctx)
	} else {
		log.Printf("[WARN] Protect: PROTECT_URL not set, controller subscription disabled")
	}

	// HTTP surface: metrics, health, signed thumbnails
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthzHandler(db, publisher, queue, processor))
	r.Get("/media/thumbnails/{file}", thumbnailHandler(repos.Events, signer))

	server := &http.Server{
		Addr:    ":" + env("PORT", "8080"),
		Handler: r,
	}
	go func() {
		log.Printf("[INFO] Server: listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[INFO] Server: shutdown requested")

	processor.Stop(30 * time.Second)
	sensors.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] Server: shutdown error: %v", err)
	}
	rdb.Close()
	db.Close()
	log.Printf("[INFO] Server: stopped")
}

// registerProtectCameras primes the bridge MAC map so controller inputs that
// identify cameras by MAC resolve without a DB hit.
func registerProtectCameras(ctx context.Context, cameras data.CameraModel, sensors *bridge.Bridge) {
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	list, err := cameras.ListEnabled(listCtx)
	if err != nil {
		log.Printf("[WARN] Protect: cannot list cameras for MAC registration: %v", err)
		return
	}
	for _, c := range list {
		if c.SourceKind == data.SourceProtect && c.MacAddress != "" {
			sensors.RegisterMAC(c.MacAddress, c.ID)
		}
	}
}

func healthzHandler(db *sql.DB, publisher *bus.Publisher, queue *events.Queue, processor *events.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		dbOK := db.PingContext(pingCtx) == nil
		if !dbOK {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"database":    dbOK,
			"bus":         publisher.Connected(),
			"queue_depth": queue.Len(),
			"dropped":     queue.Dropped(),
			"stats":       processor.Stats().Snapshot(),
		})
	}
}

// thumbnailHandler serves stored thumbnails to holders of a signed URL.
func thumbnailHandler(eventsRepo data.EventModel, signer *media.URLSigner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := signer.Verify(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "invalid token", http.StatusForbidden)
			return
		}
		file := chi.URLParam(r, "file")
		if file != eventID.String()+".jpg" {
			http.Error(w, "token does not match resource", http.StatusForbidden)
			return
		}

		ev, err := eventsRepo.GetByID(r.Context(), eventID)
		if err != nil || ev.ThumbnailPath == nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.ServeFile(w, r, filepath.Clean(*ev.ThumbnailPath))
	}
}
