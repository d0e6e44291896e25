// Package correlation carries a correlation id through a unit of work such
// as one bulk grading batch or one purchase event.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Header carries the correlation id across service boundaries.
const Header = "X-Correlation-Id"

const maxInboundLength = 64

type correlationKey struct{}

// FromInbound accepts a caller-supplied id, discarding blank or oversized values.
func FromInbound(ctx context.Context, raw string) context.Context {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxInboundLength {
		return ctx
	}
	return ContextWithCorrelationID(ctx, id)
}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}
