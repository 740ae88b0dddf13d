package adapters_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-evcore/adapters"
	"github.com/momentics/hioload-evcore/control"
	"github.com/momentics/hioload-evcore/event"
)

func TestControlAdapterBasic(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.WorkerConnections = 64
	handled := int64(0)
	ctrl := adapters.NewControlAdapter(cfg, func() event.Stats {
		handled++
		return event.Stats{Handled: handled}
	})

	assert.Equal(t, 64, ctrl.GetConfig()["worker_connections"])

	ctrl.SetMetric("k", 1)
	stats := ctrl.Stats()
	assert.Equal(t, 1, stats["k"])
	assert.EqualValues(t, 1, stats["handled"])
	assert.Contains(t, stats, "debug.platform.cpus")
	assert.EqualValues(t, 2, ctrl.Stats()["handled"], "stats are re-read on every call")

	ctrl.RegisterDebugProbe("answer", func() any { return 42 })
	assert.Equal(t, 42, ctrl.Stats()["debug.answer"])

	ctrl.Annotate("backend", "poll")
	assert.Equal(t, "poll", ctrl.GetConfig()["backend"])

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(ctrl.Collector("evcore", prometheus.Labels{"worker": "0"})))
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
