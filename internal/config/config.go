// Package config loads the worker configuration from the process
// environment, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	apperrors "transcoder/internal/pkg/errors"
)

const (
	QueueRedis = "redis"
	QueueSQS   = "sqs"

	StorageS3      = "s3"
	StorageLocalFS = "localfs"
	StorageGDrive  = "gdrive"
	StorageGCS     = "gcs"

	PolicyPartial = "partial"
	PolicyStrict  = "strict"
)

type Queue struct {
	Driver string
	// Host is the Redis address for the redis driver.
	Host  string
	Name  string
	Group string
	// ClaimIdle is how long a pending entry may sit unacknowledged before
	// another consumer reclaims it.
	ClaimIdle time.Duration
	// VisibilityTimeout is the SQS hold on a received message.
	VisibilityTimeout time.Duration
	// Heartbeat is how often the worker renews its hold on the job in
	// flight. ClaimIdle and VisibilityTimeout must cover two beats.
	Heartbeat     time.Duration
	DeadLetterURL string
	MaxDeliveries int

	// SQS driver only. Endpoint overrides the AWS default (e.g. a local
	// emulator); credentials fall back to the storage keys.
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type Storage struct {
	Provider          string
	Endpoint          string
	UseSSL            bool
	Region            string
	AccessKey         string
	SecretKey         string
	LocalRoot         string
	SourceBucket      string
	DestinationBucket string

	GDriveClientID     string
	GDriveClientSecret string
	GDriveRefreshToken string

	// GCSCredentialsFile is optional; application default credentials are
	// used when empty.
	GCSCredentialsFile string
}

type Media struct {
	FFmpegBin        string
	FFprobeBin       string
	RenditionTimeout time.Duration
	FailurePolicy    string
}

type Log struct {
	Level  string
	Format string
	Source bool
}

type Config struct {
	Queue         Queue
	Storage       Storage
	Media         Media
	Log           Log
	WorkspaceRoot string
	DatabaseURL   string
	// OpsAddr is the listen address of the health/metrics server. Empty
	// disables it.
	OpsAddr string
}

// Load reads the environment once. A .env file in the working directory is
// applied first when present; real environment variables win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() (*Config, error) {
	c := &Config{
		Queue: Queue{
			Driver:        env("QUEUE_DRIVER", QueueRedis),
			Host:          env("QUEUE_HOST", "localhost:6379"),
			Name:          env("QUEUE_NAME", "video.transcode"),
			Group:         env("QUEUE_GROUP", "transcoder"),
			DeadLetterURL: env("QUEUE_DEAD_LETTER_URL", ""),
			Region:        envFirst("us-east-1", "QUEUE_REGION", "AWS_REGION"),
			Endpoint:      env("QUEUE_ENDPOINT", ""),
			AccessKey:     envFirst("", "AWS_ACCESS_KEY_ID", "STORAGE_ACCESS_KEY", "MINIO_ACCESS_KEY"),
			SecretKey:     envFirst("", "AWS_SECRET_ACCESS_KEY", "STORAGE_SECRET_KEY", "MINIO_SECRET_KEY"),
		},
		Storage: Storage{
			Provider:           env("STORAGE_PROVIDER", StorageS3),
			Endpoint:           env("STORAGE_ENDPOINT", "localhost:9000"),
			UseSSL:             boolEnv("STORAGE_USE_SSL", false),
			Region:             env("STORAGE_REGION", "us-east-1"),
			AccessKey:          envFirst("", "STORAGE_ACCESS_KEY", "MINIO_ACCESS_KEY"),
			SecretKey:          envFirst("", "STORAGE_SECRET_KEY", "MINIO_SECRET_KEY"),
			LocalRoot:          env("STORAGE_LOCAL_ROOT", "/data"),
			SourceBucket:       env("SOURCE_BUCKET", "video"),
			DestinationBucket:  env("DESTINATION_BUCKET", "video-encoded"),
			GDriveClientID:     env("GDRIVE_CLIENT_ID", ""),
			GDriveClientSecret: env("GDRIVE_CLIENT_SECRET", ""),
			GDriveRefreshToken: env("GDRIVE_REFRESH_TOKEN", ""),
			GCSCredentialsFile: env("GCS_CREDENTIALS_FILE", ""),
		},
		Media: Media{
			FFmpegBin:     env("FFMPEG_BIN", "ffmpeg"),
			FFprobeBin:    env("FFPROBE_BIN", "ffprobe"),
			FailurePolicy: env("RENDITION_FAILURE_POLICY", PolicyPartial),
		},
		Log: Log{
			Level:  env("LOG_LEVEL", "info"),
			Format: env("LOG_FORMAT", "json"),
			Source: boolEnv("LOG_SOURCE", false),
		},
		WorkspaceRoot: env("WORKSPACE_ROOT", filepath.Join(os.TempDir(), "transcoder")),
		DatabaseURL:   env("DATABASE_URL", ""),
		OpsAddr:       os.Getenv("OPS_ADDR"),
	}
	if _, set := os.LookupEnv("OPS_ADDR"); !set {
		c.OpsAddr = ":9090"
	}

	var err error
	if c.Queue.ClaimIdle, err = durationEnv("QUEUE_CLAIM_IDLE", 30*time.Minute); err != nil {
		return nil, invalid("QUEUE_CLAIM_IDLE", err)
	}
	if c.Queue.VisibilityTimeout, err = durationEnv("QUEUE_VISIBILITY_TIMEOUT", 16*time.Minute); err != nil {
		return nil, invalid("QUEUE_VISIBILITY_TIMEOUT", err)
	}
	if c.Queue.Heartbeat, err = durationEnv("QUEUE_HEARTBEAT", time.Minute); err != nil {
		return nil, invalid("QUEUE_HEARTBEAT", err)
	}
	if c.Queue.MaxDeliveries, err = intEnv("MAX_DELIVERIES", 5); err != nil {
		return nil, invalid("MAX_DELIVERIES", err)
	}
	if c.Media.RenditionTimeout, err = durationEnv("RENDITION_TIMEOUT", 2*time.Hour); err != nil {
		return nil, invalid("RENDITION_TIMEOUT", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects unknown drivers, providers and policies, and
// non-positive limits.
func (c *Config) Validate() error {
	switch c.Queue.Driver {
	case QueueRedis, QueueSQS:
	default:
		return apperrors.ValidationField("QUEUE_DRIVER", fmt.Sprintf("unknown queue driver %q", c.Queue.Driver))
	}
	if c.Queue.Name == "" {
		return apperrors.ValidationField("QUEUE_NAME", "queue name is required")
	}

	switch c.Storage.Provider {
	case StorageS3, StorageLocalFS, StorageGCS:
	case StorageGDrive:
		if c.Storage.GDriveClientID == "" || c.Storage.GDriveClientSecret == "" || c.Storage.GDriveRefreshToken == "" {
			return apperrors.ValidationField("STORAGE_PROVIDER", "gdrive requires GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN")
		}
	default:
		return apperrors.ValidationField("STORAGE_PROVIDER", fmt.Sprintf("unknown storage provider %q", c.Storage.Provider))
	}

	switch c.Media.FailurePolicy {
	case PolicyPartial, PolicyStrict:
	default:
		return apperrors.ValidationField("RENDITION_FAILURE_POLICY", fmt.Sprintf("unknown policy %q", c.Media.FailurePolicy))
	}

	if c.Queue.Heartbeat <= 0 {
		return apperrors.ValidationField("QUEUE_HEARTBEAT", "must be positive")
	}
	if c.Queue.ClaimIdle <= 2*c.Queue.Heartbeat {
		return apperrors.ValidationField("QUEUE_CLAIM_IDLE", fmt.Sprintf("must be more than twice QUEUE_HEARTBEAT (%s)", c.Queue.Heartbeat))
	}
	if c.Queue.VisibilityTimeout <= 2*c.Queue.Heartbeat {
		return apperrors.ValidationField("QUEUE_VISIBILITY_TIMEOUT", fmt.Sprintf("must be more than twice QUEUE_HEARTBEAT (%s)", c.Queue.Heartbeat))
	}
	if c.Queue.VisibilityTimeout > maxVisibility {
		return apperrors.ValidationField("QUEUE_VISIBILITY_TIMEOUT", fmt.Sprintf("must not exceed %s", maxVisibility))
	}
	if c.Queue.MaxDeliveries <= 0 {
		return apperrors.ValidationField("MAX_DELIVERIES", "must be positive")
	}
	if c.Media.RenditionTimeout <= 0 {
		return apperrors.ValidationField("RENDITION_TIMEOUT", "must be positive")
	}
	return nil
}

// maxVisibility is the SQS ceiling for a visibility timeout.
const maxVisibility = 12 * time.Hour

func invalid(key string, err error) error {
	return apperrors.WrapWithCode(err, apperrors.CodeValidation, "config.load", "invalid "+key).
		WithField("field", key)
}
