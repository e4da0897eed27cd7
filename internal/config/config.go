package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/heritage-guide/backend/internal/model/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Widget WidgetConfig
	Speech SpeechConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	widget, err := loadWidgetConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{Server: server, Widget: widget, Speech: speech}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges that the parsers cannot express.
func (c *Config) Validate() error {
	if c.Widget.ReplyDelay < 0 {
		return fmt.Errorf("WIDGET_REPLY_DELAY must not be negative")
	}
	if c.Widget.SessionTTL < 0 {
		return fmt.Errorf("WIDGET_SESSION_TTL must not be negative")
	}
	if c.Widget.MaxPlayback <= 0 {
		return fmt.Errorf("WIDGET_MAX_PLAYBACK must be > 0")
	}
	if c.Speech.TTSSpeed <= 0 || c.Speech.TTSVolume <= 0 {
		return fmt.Errorf("SPEECH_TTS_SPEED and SPEECH_TTS_VOLUME must be > 0")
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// WidgetConfig 描述聊天挂件的会话行为。
type WidgetConfig struct {
	ReplyDelay          time.Duration
	SessionTTL          time.Duration
	ReapInterval        time.Duration
	MaxPlayback         time.Duration
	DefaultVoice        string
	TTSEnabled          bool
	DiscardStaleReplies bool
	AllowedOrigins      []string
}

func loadWidgetConfig() (WidgetConfig, error) {
	replyDelay, err := parseDurationEnv("WIDGET_REPLY_DELAY", 1500*time.Millisecond)
	if err != nil {
		return WidgetConfig{}, err
	}

	ttl, err := parseDurationEnv("WIDGET_SESSION_TTL", 30*time.Minute)
	if err != nil {
		return WidgetConfig{}, err
	}

	reapInterval, err := parseDurationEnv("WIDGET_REAP_INTERVAL", time.Minute)
	if err != nil {
		return WidgetConfig{}, err
	}

	maxPlayback, err := parseDurationEnv("WIDGET_MAX_PLAYBACK", 2*time.Minute)
	if err != nil {
		return WidgetConfig{}, err
	}

	ttsEnabled, err := parseBoolEnv("WIDGET_TTS_ENABLED", false)
	if err != nil {
		return WidgetConfig{}, err
	}

	// 默认保留清空会话前已排队的回复，与挂件原有行为一致
	discard, err := parseBoolEnv("WIDGET_DISCARD_STALE_REPLIES", false)
	if err != nil {
		return WidgetConfig{}, err
	}

	return WidgetConfig{
		ReplyDelay:          replyDelay,
		SessionTTL:          ttl,
		ReapInterval:        reapInterval,
		MaxPlayback:         maxPlayback,
		DefaultVoice:        getEnvOrDefault("WIDGET_DEFAULT_VOICE", "en-US"),
		TTSEnabled:          ttsEnabled,
		DiscardStaleReplies: discard,
		AllowedOrigins:      parseListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AppID       string
	AccessToken string
	APIKey      string
	BaseURL     string
	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string
	Timeout     int
	Enabled     bool
}

// Model 转换为语音服务使用的配置结构
func (c SpeechConfig) Model() *speech.SpeechConfig {
	return &speech.SpeechConfig{
		AppID:       c.AppID,
		AccessToken: c.AccessToken,
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		TTSVoice:    c.TTSVoice,
		TTSSpeed:    c.TTSSpeed,
		TTSVolume:   c.TTSVolume,
		TTSLanguage: c.TTSLanguage,
		Timeout:     c.Timeout,
	}
}

func loadSpeechConfig() (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	// 解析TTS速度和音量
	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0) // 默认1.0倍速
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0) // 默认1.0音量
	if volume != nil {
		ttsVolume = *volume
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	enabled := appID != "" && accessToken != ""

	return SpeechConfig{
		AppID:       appID,
		AccessToken: accessToken,
		APIKey:      apiKey,
		BaseURL:     getEnvOrDefault("SPEECH_BASE_URL", ""),
		TTSVoice:    getEnvOrDefault("SPEECH_TTS_VOICE", "en_female_amy_jupiter_bigtts"),
		TTSSpeed:    ttsSpeed,
		TTSVolume:   ttsVolume,
		TTSLanguage: getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		Timeout:     timeoutSeconds,
		Enabled:     enabled,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv 接受 time.ParseDuration 格式，纯数字按毫秒处理
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
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

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
