package logbowl

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Environment variable names
const (
	LogLevelEnvVar  = "SHRINKWRAP_LOG_LEVEL"
	LogFormatEnvVar = "SHRINKWRAP_LOG_CONSOLE_FORMATTER"
)

// Log formats
const (
	FormatEmoji = "emoji"
	FormatText  = "text"
	FormatJSON  = "json"
)

var domains = map[string]string{"system": "⚙️", "config": "🔩", "file": "📄", "test": "🧪", "utils": "🧰", "core": "🌟", "default": "❓", "launcher": "🚀", "builder": "🛠️", "signing": "✍️", "archive": "📦", "keymgmt": "🔑", "io": "💾", "env": "🌿", "package": "📦", "runtime": "🐍", "deps": "🧩", "analyze": "🔬", "prune": "✂️", "assemble": "🧱", "optimize": "🧹", "freeze": "🧊", "format": "🎁", "verify": "🔍", "process": "🔧"}
var actions = map[string]string{"init": "🌱", "start": "🚀", "stop": "🛑", "read": "📖", "write": "📝", "process": "⚙️", "validate": "🛡️", "execute": "▶️", "query": "🔍", "update": "🔄", "delete": "🗑️", "error": "🔥", "parse": "🧩", "build": "🏗️", "load": "💡", "verify": "🔍", "pack": "📦", "generate": "✨", "clean": "🧹", "install": "🧩", "finish": "🏁", "info": "💡", "copy": "📋", "scan": "🔎", "plan": "🗺️", "compile": "⚙️", "extract": "📤", "sign": "✍️", "probe": "🩺", "default": "⚙️"}
var statuses = map[string]string{"success": "✅", "failure": "❌", "error": "🔥", "warning": "⚠️", "info": "ℹ️", "debug": "🐞", "trace": "👣", "attempt": "⏳", "retry": "🔁", "skip": "⏭️", "complete": "🏁", "timeout": "⏱️", "notfound": "❓", "invalid": "💢", "cached": "🎯", "ongoing": "🏃", "idle": "💤", "ready": "👍", "progress": "➡️", "ok": "✅", "default": "➡️"}

func getEmoji(m map[string]string, key string) string {
	if val, ok := m[key]; ok {
		return val
	}
	return m["default"]
}

// Logger wraps hclog.Logger to provide the simplified API.
type Logger struct {
	hclog.Logger
	format string
}

// Options tune logger creation. Zero values fall back to the environment.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// Create creates a new Logger instance configured from the environment.
func Create(name string) Logger {
	return CreateWithOptions(name, Options{})
}

// CreateWithOptions creates a Logger; explicit options win over the environment.
func CreateWithOptions(name string, o Options) Logger {
	levelStr := o.Level
	if levelStr == "" {
		levelStr = os.Getenv(LogLevelEnvVar)
	}
	level := hclog.LevelFromString(strings.ToUpper(levelStr))
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	formatStr := strings.ToLower(o.Format)
	if formatStr == "" {
		formatStr = strings.ToLower(os.Getenv(LogFormatEnvVar))
	}

	output := o.Output
	if output == nil {
		output = os.Stderr
	}

	opts := &hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		JSONFormat: formatStr == FormatJSON,
		Output:     output,
	}
	return Logger{Logger: hclog.New(opts), format: formatStr}
}

// Null returns a Logger that discards everything.
func Null() Logger {
	return Logger{Logger: hclog.NewNullLogger()}
}

// OrNull returns l, or a discarding Logger when l was never initialized.
func (l Logger) OrNull() Logger {
	if l.Logger == nil {
		return Null()
	}
	return l
}

func (l Logger) log(level hclog.Level, domain, action, status, message string, args ...interface{}) {
	if l.Logger == nil {
		return
	}
	switch l.format {
	case FormatText:
		l.Logger.Log(level, fmt.Sprintf("[%s] %s", strings.ToUpper(domain), message), args...)
	case FormatJSON:
		l.Logger.With("domain", domain, "action", action, "status", status).Log(level, message, args...)
	default: // Emoji format
		l.Logger.Log(level, fmt.Sprintf("%s %s %s %s", getEmoji(domains, domain), getEmoji(actions, action), getEmoji(statuses, status), message), args...)
	}
}

func (l Logger) Info(domain, action, status, message string, args ...interface{}) {
	l.log(hclog.Info, domain, action, status, message, args...)
}
func (l Logger) Debug(domain, action, status, message string, args ...interface{}) {
	l.log(hclog.Debug, domain, action, status, message, args...)
}
func (l Logger) Warn(domain, action, status, message string, args ...interface{}) {
	l.log(hclog.Warn, domain, action, status, message, args...)
}
func (l Logger) Error(domain, action, status, message string, args ...interface{}) {
	l.log(hclog.Error, domain, action, status, message, args...)
}
