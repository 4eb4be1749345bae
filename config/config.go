package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Engine tuning values have defaults that match the reference web console.
type Config struct {
	// HTTP
	ListenAddr string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// JWT
	JWTSecret string

	// 波形导入目录（fsnotify监听）
	WaveformImportDir string

	// 引擎参数
	EngineTickHz        int     // 渲染循环频率
	BasePixelsPerSecond float64 // playbackRate=1.0 时的波形滚动像素速度
	SnapThresholdMs     float64 // 预测时间与权威时间的硬失步阈值
	DropLeadSeconds     float64 // syncStart 时高潮点前的实际时间提前量
	PositionUpdateMs    int     // ClockSource 上报播放位置的间隔
	WaveformSampleRate  float64 // 每秒波形采样点数（固定速率）
	FramePublishDivisor int     // 每 N 个 tick 向控制台推送一帧
	BassCutGain         float64 // bass-cut 时叠加的增益系数
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "deckfm"),

		// Redis配置，使用默认值
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// MinIO配置
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "bt2deck"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		JWTSecret: getEnv("JWT_SECRET", "bt2deck-dev-secret"),

		WaveformImportDir: getEnv("WAVEFORM_IMPORT_DIR", filepath.Join("uploads", "waveforms")),

		EngineTickHz:        getEnvInt("ENGINE_TICK_HZ", 60),
		BasePixelsPerSecond: getEnvFloat("BASE_PIXELS_PER_SECOND", 150),
		SnapThresholdMs:     getEnvFloat("SNAP_THRESHOLD_MS", 500),
		DropLeadSeconds:     getEnvFloat("DROP_LEAD_SECONDS", 8),
		PositionUpdateMs:    getEnvInt("POSITION_UPDATE_MS", 250),
		WaveformSampleRate:  getEnvFloat("WAVEFORM_SAMPLE_RATE", 10),
		FramePublishDivisor: getEnvInt("FRAME_PUBLISH_DIVISOR", 3),
		BassCutGain:         getEnvFloat("BASS_CUT_GAIN", 0.4),
	}
}
