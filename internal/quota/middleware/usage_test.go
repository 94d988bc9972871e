package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certledger/internal/quota/models"
	"certledger/internal/quota/store"
	id "certledger/pkg/domain"
	"certledger/pkg/requestcontext"
)

type failingRecorder struct{}

func (failingRecorder) Increment(context.Context, id.InstitutionID, models.Metric, int64) (*models.UsagePeriod, error) {
	return nil, errors.New("store down")
}

type storeRecorder struct {
	usage *store.InMemoryUsageStore
}

func (r storeRecorder) Increment(ctx context.Context, instID id.InstitutionID, m models.Metric, n int64) (*models.UsagePeriod, error) {
	return r.usage.Increment(ctx, instID, m, n, time.Now())
}

func TestCountAPICalls(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	t.Run("counts calls with a session", func(t *testing.T) {
		usage := store.NewInMemoryUsageStore()
		instID := id.InstitutionID(uuid.New())
		h := CountAPICalls(storeRecorder{usage: usage}, logger)(ok)

		for range 3 {
			req := httptest.NewRequest(http.MethodGet, "/institutions/me/usage", nil)
			req = req.WithContext(requestcontext.WithInstitution(req.Context(), requestcontext.InstitutionSession{ID: instID}))
			h.ServeHTTP(httptest.NewRecorder(), req)
		}

		period, err := usage.Get(context.Background(), instID, time.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 3, period.APICalls)
		assert.Zero(t, period.CertificatesIssued)
	})

	t.Run("skips anonymous calls", func(t *testing.T) {
		h := CountAPICalls(failingRecorder{}, logger)(ok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/certificates/verify/1", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("recorder failure does not change the response", func(t *testing.T) {
		h := CountAPICalls(failingRecorder{}, logger)(ok)
		req := httptest.NewRequest(http.MethodGet, "/institutions/me/usage", nil)
		req = req.WithContext(requestcontext.WithInstitution(req.Context(), requestcontext.InstitutionSession{ID: id.InstitutionID(uuid.New())}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
