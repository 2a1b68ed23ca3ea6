package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	components map[string]int
	providers  map[string]int
	links      int
}

func (f *fakeSource) ComponentCounts() map[string]int { return f.components }
func (f *fakeSource) ProviderCounts() map[string]int   { return f.providers }
func (f *fakeSource) LinkCount() int                   { return f.links }

func TestCollectorSnapshotsGaugesOnStart(t *testing.T) {
	src := &fakeSource{
		components: map[string]int{"ready": 2, "draining": 1},
		providers:  map[string]int{"healthy": 3},
		links:      5,
	}
	c := NewCollector(src)
	c.Start()
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(ComponentsTotal.WithLabelValues("ready")) == 2 &&
			testutil.ToFloat64(ComponentsTotal.WithLabelValues("draining")) == 1 &&
			testutil.ToFloat64(ProvidersTotal.WithLabelValues("healthy")) == 3 &&
			testutil.ToFloat64(LinksTotal) == 5
	}, time.Second, 10*time.Millisecond)
}
