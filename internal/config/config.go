package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Config is the process configuration. Every field has a usable default so
// the server starts with an empty environment.
type Config struct {
	Port string

	WorkDir             string
	LogicsDir           string
	SessionsDir         string
	ConversationLogsDir string
	UsersFile           string
	PublicDir           string
	QRCodeDir           string

	StatsInterval    time.Duration
	StatsDailyReset  bool
	RestartDelay     time.Duration
	HardResetDelay   time.Duration
	HandlerTimeout   time.Duration
	DispatchPoolSize int
	AutoRestore      bool
	RouteGroups      bool

	LogLevel    string
	LogMode     string
	LogFile     string
	LogTimezone string

	DeviceOSName   string
	AllowedOrigins []string

	DefaultAdminUser     string
	DefaultAdminPassword string

	Proxy    *ProxyConfig
	Telegram TelegramConfig
}

// TelegramConfig enables operator alerts when both fields are set.
type TelegramConfig struct {
	Token  string
	ChatID string
}

// Enabled reports whether alerts can be delivered.
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := cast.ToDurationE(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Load reads .env (if present) and the environment.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() *Config {
	workDir := getEnv("WORK_DIR", ".")

	cfg := &Config{
		Port: getEnv("PORT", "3000"),

		WorkDir:             workDir,
		LogicsDir:           getEnv("LOGICS_DIR", filepath.Join(workDir, "logics")),
		SessionsDir:         getEnv("SESSIONS_DIR", filepath.Join(workDir, "sessions")),
		ConversationLogsDir: getEnv("CONVERSATION_LOGS_DIR", filepath.Join(workDir, "conversation_logs")),
		UsersFile:           getEnv("USERS_FILE", filepath.Join(workDir, "users.json")),
		PublicDir:           getEnv("PUBLIC_DIR", filepath.Join(workDir, "public")),
		QRCodeDir:           getEnv("QR_CODE_DIR", ""),

		StatsInterval:    getDuration("STATS_INTERVAL", 5*time.Second),
		StatsDailyReset:  getBool("STATS_DAILY_RESET", false),
		RestartDelay:     getDuration("RESTART_DELAY", time.Second),
		HardResetDelay:   getDuration("HARD_RESET_DELAY", 2*time.Second),
		HandlerTimeout:   getDuration("HANDLER_TIMEOUT", 30*time.Second),
		DispatchPoolSize: getInt("DISPATCH_POOL_SIZE", 64),
		AutoRestore:      getBool("AUTO_RESTORE", true),
		RouteGroups:      getBool("ROUTE_GROUP_MESSAGES", false),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogMode:     getEnv("LOG_MODE", "development"),
		LogFile:     getEnv("LOG_FILE", ""),
		LogTimezone: getEnv("LOG_TIMEZONE", "America/Sao_Paulo"),

		DeviceOSName:   getEnv("DEVICE_OS_NAME", "BotDesk"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),

		DefaultAdminUser:     getEnv("DEFAULT_ADMIN_USER", "admin1"),
		DefaultAdminPassword: getEnv("DEFAULT_ADMIN_PASSWORD", "suporte@1"),

		Proxy: LoadProxyConfig(),
		Telegram: TelegramConfig{
			Token:  getEnv("TELEGRAM_TOKEN", ""),
			ChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		},
	}

	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = 5 * time.Second
	}
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Location resolves LogTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.LogTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
