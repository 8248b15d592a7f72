package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Format 日志输出格式
type Format int

const (
	// FormatText 文本格式（默认）
	FormatText Format = iota
	// FormatJSON JSON 格式
	FormatJSON
)

// 环境变量
//
//   - NETBRIDGE_LOG_LEVEL: 子系统=级别,子系统=级别,默认级别
//     示例: overlay=debug,pool=warn,info
//   - NETBRIDGE_LOG_FORMAT: text 或 json
const (
	EnvLogLevel  = "NETBRIDGE_LOG_LEVEL"
	EnvLogFormat = "NETBRIDGE_LOG_FORMAT"
)

type levelConfig struct {
	mu           sync.RWMutex
	defaultLevel slog.Level
	subsystems   map[string]slog.Level
	format       Format
}

var (
	levelCfg  *levelConfig
	levelOnce sync.Once
)

func levels() *levelConfig {
	levelOnce.Do(func() {
		levelCfg = parseEnv(os.Getenv(EnvLogLevel), os.Getenv(EnvLogFormat))
	})
	return levelCfg
}

func parseEnv(levelStr, formatStr string) *levelConfig {
	cfg := &levelConfig{
		defaultLevel: slog.LevelInfo,
		subsystems:   make(map[string]slog.Level),
	}
	if strings.EqualFold(strings.TrimSpace(formatStr), "json") {
		cfg.format = FormatJSON
	}
	for _, part := range strings.Split(levelStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if name, lv, ok := strings.Cut(part, "="); ok {
			if level, ok := ParseLevel(lv); ok {
				cfg.subsystems[strings.TrimSpace(name)] = level
			}
			continue
		}
		if level, ok := ParseLevel(part); ok {
			cfg.defaultLevel = level
		}
	}
	return cfg
}

// ParseLevel 解析日志级别名称
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Enabled 判断组件在该级别是否输出
func Enabled(component string, level slog.Level) bool {
	cfg := levels()
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	threshold, ok := cfg.subsystems[component]
	if !ok {
		threshold = cfg.defaultLevel
	}
	return level >= threshold
}

// SetDefaultLevel 设置默认级别
func SetDefaultLevel(level slog.Level) {
	cfg := levels()
	cfg.mu.Lock()
	cfg.defaultLevel = level
	cfg.mu.Unlock()
}

// SetSubsystemLevel 单独设置组件级别
func SetSubsystemLevel(component string, level slog.Level) {
	cfg := levels()
	cfg.mu.Lock()
	cfg.subsystems[component] = level
	cfg.mu.Unlock()
}
