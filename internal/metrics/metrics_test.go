package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveScrape_IncrementsCounter(t *testing.T) {
	Init()
	before := testutil.ToFloat64(scrapesTotal.WithLabelValues("true", "static", ""))
	ObserveScrape(true, "static", "")
	after := testutil.ToFloat64(scrapesTotal.WithLabelValues("true", "static", ""))
	assert.Equal(t, before+1, after)
}

func TestObserveJob_IncrementsCounter(t *testing.T) {
	Init()
	before := testutil.ToFloat64(jobsTotal.WithLabelValues("map", "completed"))
	ObserveJob("map", "completed")
	after := testutil.ToFloat64(jobsTotal.WithLabelValues("map", "completed"))
	assert.Equal(t, before+1, after)
}

func TestIncSSRFBlocked_IncrementsCounter(t *testing.T) {
	Init()
	before := testutil.ToFloat64(ssrfBlockedTotal)
	IncSSRFBlocked()
	after := testutil.ToFloat64(ssrfBlockedTotal)
	assert.Equal(t, before+1, after)
}
