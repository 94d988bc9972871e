// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets the values; services read them without importing net/http.
//
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//	inst, ok := requestcontext.Institution(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithInstitution(ctx, session)
package requestcontext

import (
	"context"
	"time"

	id "certledger/pkg/domain"
)

type (
	institutionKey struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue.
var (
	ContextKeyInstitution = institutionKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Institution session
// -----------------------------------------------------------------------------

// InstitutionSession is the authenticated issuer as asserted by the session
// token. It is a read-only view of the externally owned institution record.
type InstitutionSession struct {
	ID                       id.InstitutionID
	Name                     string
	IsVerified               bool
	ActiveSubscriptionPlanID id.PlanID
}

// HasActiveSubscription reports whether a plan is attached.
func (s InstitutionSession) HasActiveSubscription() bool {
	return s.ActiveSubscriptionPlanID != ""
}

// Institution retrieves the authenticated institution.
func Institution(ctx context.Context) (InstitutionSession, bool) {
	s, ok := ctx.Value(ContextKeyInstitution).(InstitutionSession)
	return s, ok
}

// InstitutionID returns the authenticated institution ID or the zero value.
func InstitutionID(ctx context.Context) id.InstitutionID {
	s, _ := Institution(ctx)
	return s.ID
}

// WithInstitution injects an authenticated institution into the context.
func WithInstitution(ctx context.Context, s InstitutionSession) context.Context {
	return context.WithValue(ctx, ContextKeyInstitution, s)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent)
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for workers and tests that never set it.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
