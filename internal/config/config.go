package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストアドライバー名
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverBuntDB   = "buntdb"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver   string
	MongoURI      string
	MongoDatabase string
	DatabaseURL   string
	BuntDBPath    string
	StoreTimeout  time.Duration

	// Mail
	SMTPHost      string
	SMTPPort      int
	EmailUser     string
	EmailPassword string
	EmailFrom     string
	MailTimeout   time.Duration

	// Auth
	PasswordMinLength  int
	OTPEnforce         bool
	OTPTTL             time.Duration
	OTPCleanupInterval time.Duration

	// Server
	ServerPort string
	StaticDir  string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// MailConfigured はSMTP認証情報が設定されているかを返す。
func (c *Config) MailConfigured() bool {
	return c.EmailUser != "" && c.EmailPassword != ""
}

// LoadDotEnv は.envファイルが存在すれば環境変数として読み込む。
// 既に設定済みの環境変数は上書きしない。ファイルが存在しない場合はエラーにしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 選択したストアドライバーに必要な環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StoreDriver = strings.ToLower(getEnvString("STORE_DRIVER", DriverMongo))

	// Required fields
	var missing []string

	switch cfg.StoreDriver {
	case DriverMongo:
		cfg.MongoURI = getEnvString("MONGODB_URI", "mongodb://localhost:27017/norkcraft")
		cfg.MongoDatabase = os.Getenv("MONGODB_DATABASE")
	case DriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case DriverBuntDB:
		cfg.BuntDBPath = getEnvString("BUNTDB_PATH", ":memory:")
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q: must be one of %s, %s, %s",
			cfg.StoreDriver, DriverMongo, DriverPostgres, DriverBuntDB)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 5*time.Second)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "smtp.gmail.com")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.EmailUser = os.Getenv("EMAIL_USER")
	cfg.EmailPassword = os.Getenv("EMAIL_PASSWORD")
	cfg.EmailFrom = getEnvString("EMAIL_FROM", cfg.EmailUser)
	cfg.MailTimeout = getEnvDuration("MAIL_TIMEOUT", 10*time.Second)
	cfg.PasswordMinLength = getEnvInt("PASSWORD_MIN_LENGTH", 5)
	cfg.OTPEnforce = getEnvBool("OTP_ENFORCE", false)
	cfg.OTPTTL = getEnvDuration("OTP_TTL", 10*time.Minute)
	cfg.OTPCleanupInterval = getEnvDuration("OTP_CLEANUP_INTERVAL", time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "5000")
	cfg.StaticDir = os.Getenv("STATIC_DIR")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
