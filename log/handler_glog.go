package log

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

var errVmoduleSyntax = errors.New("expect comma-separated list of filename=N")

// GlogHandler is a log handler that mimics the filtering features of Google's
// glog logger: a global verbosity level plus per-file overrides.
// GlogHandler 模仿 glog 的过滤功能：全局详细级别加上按文件覆盖的级别。
type GlogHandler struct {
	origin slog.Handler

	level    atomic.Int32
	override atomic.Bool

	lock      sync.RWMutex
	patterns  []pattern
	siteCache map[uintptr]slog.Level // call site -> effective level
}

type pattern struct {
	re    *regexp.Regexp
	level slog.Level
}

// NewGlogHandler wraps h with glog style filtering. Nothing passes until a
// verbosity is set.
func NewGlogHandler(h slog.Handler) *GlogHandler {
	g := &GlogHandler{origin: h, siteCache: make(map[uintptr]slog.Level)}
	g.level.Store(int32(LevelCrit + 1))
	return g
}

// Verbosity sets the global level.
func (h *GlogHandler) Verbosity(level slog.Level) {
	h.level.Store(int32(level))
}

// Vmodule sets per-file overrides, e.g.
//
//	conn.go=5          all conn.go files at trace
//	rpc/*=4            everything below an rpc directory at debug
//	rpc/wire/codec.go=3
func (h *GlogHandler) Vmodule(ruleset string) error {
	var filter []pattern
	for _, rule := range strings.Split(ruleset, ",") {
		if strings.TrimSpace(rule) == "" {
			continue
		}
		file, lvl, ok := strings.Cut(rule, "=")
		file, lvl = strings.TrimSpace(file), strings.TrimSpace(lvl)
		if !ok || file == "" || lvl == "" {
			return errVmoduleSyntax
		}
		v, err := strconv.Atoi(lvl)
		if err != nil {
			return errVmoduleSyntax
		}
		level := FromVerbosity(v)
		if level == LevelCrit {
			continue
		}
		matcher := ".*"
		for _, comp := range strings.Split(file, "/") {
			switch comp {
			case "*":
				matcher += "(/.*)?"
			case "":
			default:
				matcher += "/" + regexp.QuoteMeta(comp)
			}
		}
		if !strings.HasSuffix(file, ".go") {
			matcher += "/[^/]+\\.go"
		}
		filter = append(filter, pattern{regexp.MustCompile(matcher + "$"), level})
	}
	h.lock.Lock()
	h.patterns = filter
	h.siteCache = make(map[uintptr]slog.Level)
	h.override.Store(len(filter) != 0)
	h.lock.Unlock()
	return nil
}

func (h *GlogHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	// With overrides the decision is taken per call site in Handle.
	return h.override.Load() || slog.Level(h.level.Load()) <= lvl
}

func (h *GlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.lock.RLock()
	res := &GlogHandler{
		origin:    h.origin.WithAttrs(attrs),
		patterns:  append([]pattern(nil), h.patterns...),
		siteCache: maps.Clone(h.siteCache),
	}
	h.lock.RUnlock()
	res.level.Store(h.level.Load())
	res.override.Store(h.override.Load())
	return res
}

func (h *GlogHandler) WithGroup(string) slog.Handler {
	panic("log: groups are not supported by GlogHandler")
}

func (h *GlogHandler) Handle(ctx context.Context, r slog.Record) error {
	if slog.Level(h.level.Load()) <= r.Level {
		return h.origin.Handle(ctx, r)
	}
	h.lock.RLock()
	lvl, ok := h.siteCache[r.PC]
	h.lock.RUnlock()

	if !ok {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		lvl = LevelCrit + 1
		h.lock.RLock()
		for _, p := range h.patterns {
			if p.re.MatchString("+" + frame.File) {
				lvl = p.level
			}
		}
		h.lock.RUnlock()

		h.lock.Lock()
		h.siteCache[r.PC] = lvl
		h.lock.Unlock()
	}
	if lvl <= r.Level {
		return h.origin.Handle(ctx, r)
	}
	return nil
}
