package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCounts(t *testing.T) {
	ObserveCounts(map[string]int64{"pending": 4, "failed": 1})

	assert.Equal(t, 4.0, testutil.ToFloat64(EntriesByStatus.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(EntriesByStatus.WithLabelValues("failed")))
}

func TestRegistryGathers(t *testing.T) {
	DispatchTotal.WithLabelValues("completed", "").Inc()

	families, err := Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["outbound_dispatch_total"])
	assert.True(t, names["go_goroutines"])
}
