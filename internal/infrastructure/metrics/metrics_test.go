package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(PenaltiesApplied.WithLabelValues("fixed"))
	PenaltiesApplied.WithLabelValues("fixed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(PenaltiesApplied.WithLabelValues("fixed")))

	before = testutil.ToFloat64(AllocatedCents)
	AllocatedCents.Add(15000)
	assert.Equal(t, before+15000, testutil.ToFloat64(AllocatedCents))
}
