package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
)

// ErrConfigurationMissing 表示启动所需的配置缺失，服务不应继续运行。
var ErrConfigurationMissing = errors.New("required configuration missing")

// Log store drivers.
const (
	DriverSheets = "sheets"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	LogStore LogStoreConfig
	Chat     ChatConfig
}

// Load 从环境变量和可选的 secrets 文件加载配置。环境变量优先。
func Load() (*Config, error) {
	sec, err := loadSecrets(strings.TrimSpace(os.Getenv("SECRETS_FILE")))
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(sec)
	if err != nil {
		return nil, err
	}

	logStore, err := loadLogStoreConfig(sec)
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig(sec)
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, LogStore: logStore, Chat: chat}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr          string
	SendRPS       float64
	SendBurst     int
	WatchInterval time.Duration
}

// loadServerConfig 解析服务器监听地址与限流参数。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	var addr string
	switch {
	case strings.Contains(port, ":"):
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		addr = port
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	default:
		addr = ":" + port
	}

	rps := 1.0
	if override, err := parseOptionalFloatEnv("SEND_RPS"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		rps = *override
	}

	burst := 3
	if override, err := parseOptionalIntEnv("SEND_BURST"); err != nil {
		return ServerConfig{}, err
	} else if override != nil && *override > 0 {
		burst = *override
	}

	watch, err := parseDurationEnv("WATCH_INTERVAL", 2*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}

	return ServerConfig{Addr: addr, SendRPS: rps, SendBurst: burst, WatchInterval: watch}, nil
}

// AIConfig 描述对话端点相关配置。
type AIConfig struct {
	ChatURL     string
	Timeout     time.Duration
	PersonaKeys map[persona.ID]string
}

func loadAIConfig(sec *secrets) (AIConfig, error) {
	timeout, err := parseDurationEnv("DIFY_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	keys, err := sec.personaKeys()
	if err != nil {
		return AIConfig{}, err
	}
	// PERSONA_API_KEY_1..8 按展示顺序覆盖 secrets 中的密钥。
	for i, id := range persona.All() {
		if value := strings.TrimSpace(os.Getenv(fmt.Sprintf("PERSONA_API_KEY_%d", i+1))); value != "" {
			keys[id] = value
		}
	}

	return AIConfig{
		ChatURL:     getEnvOrDefault("DIFY_CHAT_URL", "https://api.dify.ai/v1/chat-messages"),
		Timeout:     timeout,
		PersonaKeys: keys,
	}, nil
}

// LogStoreConfig 描述聊天记录表的存储位置。
type LogStoreConfig struct {
	Driver         string
	SpreadsheetID  string
	ServiceAccount []byte
	SQLitePath     string
	CacheTTL       time.Duration
}

func loadLogStoreConfig(sec *secrets) (LogStoreConfig, error) {
	cacheTTL, err := parseDurationEnv("LOG_CACHE_TTL", 3*time.Second)
	if err != nil {
		return LogStoreConfig{}, err
	}

	cfg := LogStoreConfig{
		Driver:        strings.ToLower(getEnvOrDefault("LOG_STORE", DriverSheets)),
		SpreadsheetID: getEnvOrDefault("GSHEET_ID", sec.GSheetID),
		SQLitePath:    getEnvOrDefault("SQLITE_PATH", "chat_logs.db"),
		CacheTTL:      cacheTTL,
	}

	switch cfg.Driver {
	case DriverSheets:
		var raw any = sec.ServiceAccount
		if env := strings.TrimSpace(os.Getenv("GCP_SERVICE_ACCOUNT")); env != "" {
			raw = env
		}
		if cfg.SpreadsheetID == "" {
			return LogStoreConfig{}, fmt.Errorf("%w: gsheet_id", ErrConfigurationMissing)
		}
		if raw == nil {
			return LogStoreConfig{}, fmt.Errorf("%w: gcp_service_account", ErrConfigurationMissing)
		}
		sa, err := ServiceAccountJSON(raw)
		if err != nil {
			return LogStoreConfig{}, err
		}
		cfg.ServiceAccount = sa
	case DriverSQLite, DriverMemory:
	default:
		return LogStoreConfig{}, fmt.Errorf("invalid LOG_STORE value %q", cfg.Driver)
	}

	return cfg, nil
}

// ChatConfig 描述消息校验参数。
type ChatConfig struct {
	MaxInputChars int
}

func loadChatConfig(sec *secrets) (ChatConfig, error) {
	limit := sec.MaxInputChars
	if override, err := parseOptionalIntEnv("MAX_INPUT_CHARS"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		limit = *override
	}
	if limit < 0 {
		limit = 0
	}
	return ChatConfig{MaxInputChars: limit}, nil
}

// ServiceAccountJSON normalises a service account given either as a JSON
// string or as a decoded table. Real newlines pasted into private_key are
// escaped and the parse retried.
func ServiceAccountJSON(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case string:
		text := strings.TrimSpace(v)
		if json.Valid([]byte(text)) {
			return []byte(text), nil
		}
		fixed := strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\n", `\n`)
		if !json.Valid([]byte(fixed)) {
			return nil, fmt.Errorf("gcp_service_account is not valid JSON")
		}
		return []byte(fixed), nil
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode gcp_service_account: %w", err)
		}
		return data, nil
	case nil:
		return nil, fmt.Errorf("%w: gcp_service_account", ErrConfigurationMissing)
	default:
		return nil, fmt.Errorf("unsupported gcp_service_account type %T", raw)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv 接受 Go duration 字符串，纯数字按秒处理。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
