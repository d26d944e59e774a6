package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(resolutionsTotal.WithLabelValues(OutcomeVetoed))
	Resolution(OutcomeVetoed)
	assert.Equal(t, before+1, testutil.ToFloat64(resolutionsTotal.WithLabelValues(OutcomeVetoed)))

	before = testutil.ToFloat64(importerInvocations.WithLabelValues("gradle"))
	ImporterInvoked("gradle")
	assert.Equal(t, before+1, testutil.ToFloat64(importerInvocations.WithLabelValues("gradle")))

	before = testutil.ToFloat64(compilationsTotal.WithLabelValues(KindFull, OutcomeSuccess))
	Compilation(KindFull, OutcomeSuccess, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(compilationsTotal.WithLabelValues(KindFull, OutcomeSuccess)))

	PermitsInUse(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(permitsInUse))
	PermitsInUse(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(permitsInUse))
}

func TestHandlerExposesCollectors(t *testing.T) {
	PoolRejected("compile")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.True(t, strings.Contains(rec.Body.String(), "groovyls_pool_rejections_total"))
}
