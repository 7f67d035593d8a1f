package logger

import (
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Environment variable consulted for log level configuration. Matches the
// core's PIPEWIRE_DEBUG convention: "*:LVL", a bare numeric level "N", or a
// comma separated per-topic list "conn:4,link:2" (topics are currently
// ignored beyond presence; only the global level is honored).
const envLogLevel = "PIPEWIRE_DEBUG"

var (
	// atomicLevel implements slog.Leveler and can be changed at runtime.
	atomicLevel = &dynamicLevel{v: int64(slog.LevelInfo)}
	// global logger instance
	global   *slog.Logger
	initOnce sync.Once

	// Optional flag (users may pass -log.level=debug). If flags.Parse() hasn't
	// yet been called when Init is invoked, we still read the raw os.Args.
	flagLevel = flag.String("log.level", "", "log level (debug, info, warn, error)")
)

// dynamicLevel is an atomic Leveler.
type dynamicLevel struct{ v int64 }

func (d *dynamicLevel) Level() slog.Level { return slog.Level(atomic.LoadInt64(&d.v)) }
func (d *dynamicLevel) set(l slog.Level)  { atomic.StoreInt64(&d.v, int64(l)) }

// Init initializes the global logger. It is safe to call multiple times; the
// first call wins except SetLevel / UseWriter which mutate state intentionally.
func Init() {
	initOnce.Do(func() {
		lvl := detectLevel()
		atomicLevel.set(lvl)
		global = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: atomicLevel}))
	})
}

// detectLevel resolves the initial log level from (precedence high→low):
//  1. command-line flag -log.level
//  2. environment variable PIPEWIRE_DEBUG
//  3. default (info)
func detectLevel() slog.Level {
	if *flagLevel == "" {
		for _, arg := range os.Args[1:] {
			if strings.HasPrefix(arg, "-log.level=") {
				parts := strings.SplitN(arg, "=", 2)
				if len(parts) == 2 {
					*flagLevel = parts[1]
				}
			}
		}
	}
	if lvl, ok := parseLevel(strings.TrimSpace(*flagLevel)); ok {
		return lvl
	}
	if env := os.Getenv(envLogLevel); env != "" {
		if lvl, ok := parseDebugSpec(env); ok {
			return lvl
		}
	}
	return slog.LevelInfo
}

// parseDebugSpec accepts the three PIPEWIRE_DEBUG forms described in §6 of
// the core's environment contract: a bare numeric level, "*:LVL", or a
// comma-separated "topic:LVL" list (the highest requested level wins).
func parseDebugSpec(spec string) (slog.Level, bool) {
	best := slog.LevelInfo
	found := false
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		val := part
		if idx := strings.LastIndex(part, ":"); idx >= 0 {
			val = part[idx+1:]
		}
		if n, err := strconv.Atoi(val); err == nil {
			lvl := numericLevel(n)
			if !found || lvl < best {
				best = lvl
			}
			found = true
			continue
		}
		if lvl, ok := parseLevel(val); ok {
			if !found || lvl < best {
				best = lvl
			}
			found = true
		}
	}
	return best, found
}

// numericLevel maps PipeWire's 0..5 trace-verbosity scale onto slog levels.
func numericLevel(n int) slog.Level {
	switch {
	case n <= 1:
		return slog.LevelError
	case n == 2:
		return slog.LevelWarn
	case n == 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// parseLevel converts string to slog.Level.
func parseLevel(s string) (slog.Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "err":
		return slog.LevelError, true
	}
	return 0, false
}

// SetLevel changes the runtime log level.
func SetLevel(level string) error {
	Init()
	lvl, ok := parseLevel(level)
	if !ok {
		return errors.New("invalid log level: " + level)
	}
	atomicLevel.set(lvl)
	return nil
}

// Level returns the current runtime level as string.
func Level() string {
	Init()
	return atomicLevel.Level().String()
}

// UseWriter swaps the output writer (intended for tests). Retains current level.
func UseWriter(w io.Writer) {
	Init()
	global = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: atomicLevel}))
}

// Logger returns the global logger (ensures Init was called).
func Logger() *slog.Logger { Init(); return global }

// Convenience top-level logging functions.
func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// WithClient attaches client identity fields (client id + peer address).
func WithClient(l *slog.Logger, clientID uint32, peerAddr string) *slog.Logger {
	return l.With("client_id", clientID, "peer_addr", peerAddr)
}

// WithResource attaches resource identity fields used throughout dispatch
// logging (resource id, resource type URI).
func WithResource(l *slog.Logger, resourceID uint32, typeURI string) *slog.Logger {
	return l.With("resource_id", resourceID, "type", typeURI)
}

// WithLink attaches link endpoint identity for state-machine logging.
func WithLink(l *slog.Logger, linkID uint32, outputPort, inputPort uint32) *slog.Logger {
	return l.With("link_id", linkID, "output_port", outputPort, "input_port", inputPort)
}
