package observability

import (
	"context"
	"log/slog"
)

// Audit emits a structured audit record for signal-worthy security events:
// token reuse, tamper detection, repeated verification failures. Controllers
// and SIEM pipelines key off the event attribute.
func Audit(ctx context.Context, event string, attrs ...any) {
	base := []any{"event", event}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit", base...)
}
