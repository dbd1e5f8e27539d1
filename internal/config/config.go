package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/manthysbr/pdfmill/internal/core/domain"
)

type NATS struct {
	URI        string
	Stream     string
	Consumers  []domain.JobKind
	Bucket     string
	MaxDeliver int
	AckWait    time.Duration
	DLQEnabled bool
}

type S3 struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

type Office struct {
	// Converter is soffice, docker or none.
	Converter   string
	SofficePath string
	DockerImage string
}

type Config struct {
	NATS NATS
	S3   S3

	// Retention bounds job records, presigned URLs and stored blobs.
	Retention time.Duration

	// JobStore is nats or duckdb.
	JobStore   string
	DuckDBPath string

	Parallelism       int
	PullersPerKind    int
	MaxConcurrentJobs int64

	Office       Office
	PdftoppmPath string
	RenderDPI    int

	ScratchDir          string
	DownloadTimeout     time.Duration
	DownloadInsecureTLS bool
	CallbackBackoffMin  time.Duration
	CallbackBackoffMax  time.Duration

	StatusAddr     string
	AllowedOrigins []string
	LogLevel       slog.Level
}

// Load reads the environment, seeded from .env when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	cfg := Config{
		NATS: NATS{
			URI:        p.str("NATS_URI", "nats://localhost:4222"),
			Stream:     p.str("NATS_JETSTREAM_QUEUE_JOB", "newJob"),
			Bucket:     p.str("NATS_KV_STORE_BUCKET", "job"),
			MaxDeliver: p.integer("NATS_JETSTREAM_CONSUMER_MAX_DELIVERIES", 5),
			AckWait:    p.seconds("NATS_JETSTREAM_CONSUMER_ACK_WAIT_SECONDS", 30),
			DLQEnabled: p.boolean("NATS_JETSTREAM_DLQ_ENABLED", true),
		},
		S3: S3{
			Endpoint:  p.str("S3_ENDPOINT", "http://localhost:9000"),
			Region:    p.str("S3_REGION", "us-east-1"),
			AccessKey: p.str("S3_ACCESS_KEY_ID", "minio123"),
			SecretKey: p.str("S3_SECRET_ACCESS_KEY", "minio123"),
			Bucket:    p.str("S3_BUCKET", "bucket"),
		},
		Retention:         p.seconds("MAX_AGE_SECONDS", 90000),
		JobStore:          p.str("JOB_STORE", "nats"),
		DuckDBPath:        p.str("DUCKDB_PATH", "pdfmill.db"),
		Parallelism:       p.integer("PARALLELISM", 10),
		PullersPerKind:    p.integer("WORKER_PULLERS", 1),
		MaxConcurrentJobs: int64(p.integer("MAX_CONCURRENT_JOBS", 0)),
		Office: Office{
			Converter:   p.str("OFFICE_CONVERTER", "soffice"),
			SofficePath: p.str("SOFFICE_PATH", "/usr/bin/soffice"),
			DockerImage: p.str("OFFICE_DOCKER_IMAGE", "lscr.io/linuxserver/libreoffice:latest"),
		},
		PdftoppmPath:        p.str("PDFTOPPM_PATH", "pdftoppm"),
		RenderDPI:           p.integer("RENDER_DPI", 72),
		ScratchDir:          p.str("SCRATCH_DIR", os.TempDir()),
		DownloadTimeout:     p.seconds("DOWNLOAD_TIMEOUT_SECONDS", 120),
		DownloadInsecureTLS: p.boolean("DOWNLOAD_INSECURE_TLS", false),
		CallbackBackoffMin:  p.millis("CALLBACK_BACKOFF_MIN_MS", 250),
		CallbackBackoffMax:  p.millis("CALLBACK_BACKOFF_MAX_MS", 4000),
		StatusAddr:          p.raw("STATUS_ADDR", ":8080"),
		AllowedOrigins:      p.list("STATUS_ALLOWED_ORIGINS", "*"),
		LogLevel:            p.level("LOG_LEVEL", slog.LevelInfo),
	}

	for _, name := range p.list("NATS_JETSTREAM_CONSUMERS", "preview,transform") {
		kind, err := domain.ParseJobKind(name)
		if err != nil {
			p.fail("NATS_JETSTREAM_CONSUMERS", err)
			continue
		}
		cfg.NATS.Consumers = append(cfg.NATS.Consumers, kind)
	}

	if p.err != nil {
		return Config{}, p.err
	}

	secret, err := NewSecretKey(os.Getenv("PDFMILL_SECRET_KEY")).Reveal(cfg.S3.SecretKey)
	if err != nil {
		return Config{}, fmt.Errorf("S3_SECRET_ACCESS_KEY: %w", err)
	}
	cfg.S3.SecretKey = secret

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.JobStore {
	case "nats", "duckdb":
	default:
		return fmt.Errorf("JOB_STORE must be nats or duckdb, got %q", c.JobStore)
	}
	switch c.Office.Converter {
	case "soffice", "docker", "none":
	default:
		return fmt.Errorf("OFFICE_CONVERTER must be soffice, docker or none, got %q", c.Office.Converter)
	}
	if len(c.NATS.Consumers) == 0 {
		return fmt.Errorf("NATS_JETSTREAM_CONSUMERS lists no job kinds")
	}
	if c.Retention <= 0 {
		return fmt.Errorf("MAX_AGE_SECONDS must be positive")
	}
	if c.NATS.MaxDeliver <= 0 {
		return fmt.Errorf("NATS_JETSTREAM_CONSUMER_MAX_DELIVERIES must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("PARALLELISM must be positive")
	}
	if c.CallbackBackoffMax < c.CallbackBackoffMin {
		return fmt.Errorf("CALLBACK_BACKOFF_MAX_MS is below CALLBACK_BACKOFF_MIN_MS")
	}
	return nil
}

// LogValue hides credentials when the configuration is logged.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("nats_uri", c.NATS.URI),
		slog.String("stream", c.NATS.Stream),
		slog.Any("consumers", c.NATS.Consumers),
		slog.String("job_store", c.JobStore),
		slog.String("s3_endpoint", c.S3.Endpoint),
		slog.String("s3_bucket", c.S3.Bucket),
		slog.String("s3_secret", MaskSecret(c.S3.SecretKey)),
		slog.Duration("retention", c.Retention),
		slog.Int("parallelism", c.Parallelism),
		slog.Int("pullers", c.PullersPerKind),
		slog.String("office_converter", c.Office.Converter),
		slog.String("status_addr", c.StatusAddr),
	)
}

// parser collects the first malformed variable.
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (p *parser) str(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// raw distinguishes unset from explicitly empty.
func (p *parser) raw(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func (p *parser) integer(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) seconds(key string, def int) time.Duration {
	return time.Duration(p.integer(key, def)) * time.Second
}

func (p *parser) millis(key string, def int) time.Duration {
	return time.Duration(p.integer(key, def)) * time.Millisecond
}

func (p *parser) list(key, def string) []string {
	var out []string
	for _, item := range strings.Split(p.str(key, def), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (p *parser) level(key string, def slog.Level) slog.Level {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		p.fail(key, err)
		return def
	}
	return lvl
}
