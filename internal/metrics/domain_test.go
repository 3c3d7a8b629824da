package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveSynopsisOutcomes(t *testing.T) {
	before := testutil.ToFloat64(synopsisTotal.WithLabelValues(SynopsisFallback, "upload"))
	ObserveSynopsis("upload", false, true)
	assert.Equal(t, before+1, testutil.ToFloat64(synopsisTotal.WithLabelValues(SynopsisFallback, "upload")))

	before = testutil.ToFloat64(synopsisTotal.WithLabelValues(SynopsisFailed, "worker"))
	ObserveSynopsis("worker", true, true)
	assert.Equal(t, before+1, testutil.ToFloat64(synopsisTotal.WithLabelValues(SynopsisFailed, "worker")))
}

func TestObserveDownload(t *testing.T) {
	before := testutil.ToFloat64(downloadsTotal)
	ObserveDownload()
	ObserveDownload()
	assert.Equal(t, before+2, testutil.ToFloat64(downloadsTotal))
}
