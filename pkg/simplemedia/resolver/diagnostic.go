package resolver

import (
	"context"
	"log/slog"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// LogSink reports resolution failures through slog.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements simplemedia.DiagnosticSink.
func (s LogSink) Emit(ctx context.Context, d simplemedia.Diagnostic) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "media url unresolvable",
		"key", d.Key,
		"normalized_key", d.NormalizedKey,
		"cause", d.Cause,
	)
}
