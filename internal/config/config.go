package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the detection server. Values come from the
// environment, optionally seeded from a .env file.
type Config struct {
	Port       int
	CORSOrigin string
	ReplicaID  string

	// Detection engine
	ModelName           string
	ModelPath           string
	ConfigPath          string
	ConfidenceThreshold float64
	IOUThreshold        float64
	MaxDetections       int

	// Dispatch
	ProcessingWorkers int
	QueueSize         int
	TaskTimeout       time.Duration
	RequestTimeout    time.Duration
	MaxUploadBytes    int64

	// Streaming
	StreamFPS     int
	ViewerTimeout time.Duration

	// Downstream sink
	SinkKind          string // none, http, mqtt, redis
	SinkURL           string
	SinkTopicPrefix   string
	MQTTBroker        string
	RedisAddr         string
	ForwardQueueSize  int
	ForwardWorkers    int
	ForwardMaxRetries int
	ForwardTimeout    time.Duration

	// Persistence
	StoreKind                string // none, sqlite, postgres
	DBPath                   string
	DBUser                   string
	DBPassword               string
	DBHost                   string
	DBPort                   int
	DBName                   string
	ImageDirectory           string
	ImageBufferLimit         int
	ImageBufferFlushInterval time.Duration

	LogDirectory string
}

// Load reads the configuration. envFile is optional; a missing file is not an error.
func Load(envFile string) *Config {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	return &Config{
		Port:       getEnvAsInt("PORT", 8000),
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),
		ReplicaID:  getEnv("REPLICA_ID", getEnv("POD_NAME", os.Getenv("HOSTNAME"))),

		ModelName:           getEnv("MODEL_NAME", "ssd_mobilenet_v1_coco"),
		ModelPath:           getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ConfigPath:          getEnv("CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.25),
		IOUThreshold:        getEnvAsFloat("IOU_THRESHOLD", 0.45),
		MaxDetections:       getEnvAsInt("MAX_DETECTIONS", 300),

		ProcessingWorkers: getEnvAsInt("PROCESSING_WORKERS", 3),
		QueueSize:         getEnvAsInt("QUEUE_SIZE", 32),
		TaskTimeout:       getEnvAsDuration("TASK_TIMEOUT", 10*time.Second),
		RequestTimeout:    getEnvAsDuration("REQUEST_TIMEOUT", 15*time.Second),
		MaxUploadBytes:    getEnvAsInt64("MAX_UPLOAD_BYTES", 32<<20),

		StreamFPS:     getEnvAsInt("STREAM_FPS", 2),
		ViewerTimeout: getEnvAsDuration("VIEWER_TIMEOUT", 60*time.Second),

		SinkKind:          getEnv("SINK_KIND", "none"),
		SinkURL:           getEnv("SINK_URL", ""),
		SinkTopicPrefix:   getEnv("SINK_TOPIC_PREFIX", "detections"),
		MQTTBroker:        getEnv("MQTT_BROKER", "localhost:1883"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		ForwardQueueSize:  getEnvAsInt("FORWARD_QUEUE_SIZE", 64),
		ForwardWorkers:    getEnvAsInt("FORWARD_WORKERS", 2),
		ForwardMaxRetries: getEnvAsInt("FORWARD_MAX_RETRIES", 3),
		ForwardTimeout:    getEnvAsDuration("FORWARD_TIMEOUT", 5*time.Second),

		StoreKind:                getEnv("STORE_KIND", "sqlite"),
		DBPath:                   getEnv("DB_PATH", filepath.Join(".", "data", "frames.db")),
		DBUser:                   getEnv("DB_USER", "postgres"),
		DBPassword:               getEnv("DB_PASSWORD", "postgres"),
		DBHost:                   getEnv("DB_HOST", "postgres-svc"),
		DBPort:                   getEnvAsInt("DB_PORT", 5432),
		DBName:                   getEnv("DB_NAME", "postgres"),
		ImageDirectory:           getEnv("IMAGE_DIR", filepath.Join(".", "images")),
		ImageBufferLimit:         getEnvAsInt("BUFFER_LIMIT", 30),
		ImageBufferFlushInterval: getEnvAsDuration("FLUSH_INTERVAL", 10*time.Second),

		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("750ms") or plain seconds ("30").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
