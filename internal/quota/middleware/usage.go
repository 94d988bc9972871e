// Package middleware counts authenticated API calls against the
// institution's usage period.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"certledger/internal/quota/models"
	id "certledger/pkg/domain"
	"certledger/pkg/requestcontext"
)

// Recorder adds to an institution's usage counters.
type Recorder interface {
	Increment(ctx context.Context, institutionID id.InstitutionID, metric models.Metric, amount int64) (*models.UsagePeriod, error)
}

// CountAPICalls records one api_calls unit per request that carries an
// institution session. Failures are logged and never fail the request.
func CountAPICalls(recorder Recorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			ctx := r.Context()
			instID := requestcontext.InstitutionID(ctx)
			if instID.IsNil() {
				return
			}
			if _, err := recorder.Increment(context.WithoutCancel(ctx), instID, models.MetricAPICalls, 1); err != nil {
				logger.WarnContext(ctx, "failed to record api call",
					"request_id", requestcontext.RequestID(ctx),
					"institution_id", instID.String(),
					"error", err,
				)
			}
		})
	}
}
