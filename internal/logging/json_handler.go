package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// processHandler stamps each record with the emitting pid. The same log file
// collects lines from the launching process and from the daemon.
type processHandler struct {
	slog.Handler
}

func (h processHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(slog.Int("proc", os.Getpid()))
	return h.Handler.Handle(ctx, record)
}

func (h processHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return processHandler{h.Handler.WithAttrs(attrs)}
}

func (h processHandler) WithGroup(name string) slog.Handler {
	return processHandler{h.Handler.WithGroup(name)}
}

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return processHandler{slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: renameJSONAttr,
	})}
}

func renameJSONAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "ts"
		if attr.Value.Kind() == slog.KindTime {
			attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
		}
	case slog.LevelKey:
		attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	return attr
}
