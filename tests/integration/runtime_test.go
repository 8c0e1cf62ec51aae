//go:build integration
// +build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivetrain-rt/drivetrain/internal/acquire"
	"github.com/drivetrain-rt/drivetrain/internal/config"
	"github.com/drivetrain-rt/drivetrain/internal/driver"
	"github.com/drivetrain-rt/drivetrain/internal/runtime"
)

func buildRuntime(t *testing.T, cfg *config.Config, table *config.Table) *runtime.Runtime {
	t.Helper()
	rt, err := runtime.Build(cfg, table, nil)
	require.NoError(t, err)
	rt.Start(context.Background())
	t.Cleanup(rt.Stop)
	return rt
}

// TestSteadyStatePacing runs a 50ms driver with a wake-on-notify receive
// consumer for one second. The consumer keeps up, so the channel never
// builds depth and nothing overflows.
func TestSteadyStatePacing(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping pacing test in short mode")
	}

	cfg := config.Default()
	cfg.Sampler.Interval = 100 * time.Millisecond
	cfg.Export.Interval = 200 * time.Millisecond

	table := &config.Table{
		Drivers: []config.DriverSpec{
			{
				Name:     "imu",
				Source:   "synthetic",
				Period:   config.Duration(50 * time.Millisecond),
				Priority: 8,
				Channel:  config.ChannelSpec{Capacity: 10, Policy: "drop_oldest"},
				Consumers: []config.ConsumerSpec{
					{Name: "fusion", Mode: "receive", Priority: 6},
				},
			},
		},
	}

	rt := buildRuntime(t, cfg, table)
	time.Sleep(time.Second)

	imu, ok := rt.Driver("imu")
	require.True(t, ok)

	produced := imu.Produced()
	assert.InDelta(t, 20, float64(produced), 6, "one item per 50ms period")

	var stats = rt.Registry().ChannelStats()
	require.Len(t, stats, 1)
	assert.LessOrEqual(t, stats[0].Depth, 1, "consumer keeps up with producer")
	assert.Zero(t, stats[0].Overflow)
}

// TestSamplerCadence checks the periodic sampler lands close to its
// nominal rate and fills in the sampled fields of every unit record.
func TestSamplerCadence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping sampler test in short mode")
	}

	cfg := config.Default()
	cfg.Sampler.Interval = 100 * time.Millisecond
	cfg.Export.Interval = time.Second

	table := &config.Table{
		Drivers: []config.DriverSpec{
			{
				Name:     "imu",
				Source:   "synthetic",
				Period:   config.Duration(20 * time.Millisecond),
				Priority: 8,
				Channel:  config.ChannelSpec{Capacity: 10, Policy: "drop_oldest"},
			},
		},
	}

	rt := buildRuntime(t, cfg, table)
	time.Sleep(1050 * time.Millisecond)

	runs := rt.Registry().SamplerRuns()
	assert.InDelta(t, 10, float64(runs), 2, "one sampling pass per interval")

	for _, snap := range rt.Registry().Snapshots() {
		if snap.Name == "imu" {
			assert.Greater(t, snap.StackSamples, uint64(0))
			assert.Greater(t, snap.ExecCount, uint64(10))
		}
	}

	// The sampler runs at the lowest priority and still keeps up here.
	assert.Less(t, rt.Registry().SamplerLag(), 100*time.Millisecond)
}

// TestDegradeAndReset walks a driver through the full fault protocol:
// repeated acquisition faults trip it into degraded, where its unit keeps
// cycling without producing, and an explicit reset resumes production.
func TestDegradeAndReset(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping fault protocol test in short mode")
	}

	cfg := config.Default()
	cfg.Sampler.Interval = 100 * time.Millisecond
	cfg.Export.Interval = time.Second

	table := &config.Table{
		Drivers: []config.DriverSpec{
			{
				Name:           "imu",
				Source:         "synthetic",
				Period:         config.Duration(10 * time.Millisecond),
				Priority:       8,
				FaultThreshold: 3,
				Channel:        config.ChannelSpec{Capacity: 10, Policy: "drop_oldest"},
			},
		},
	}

	rt := buildRuntime(t, cfg, table)

	imu, ok := rt.Driver("imu")
	require.True(t, ok)
	syn, ok := imu.Source().(*acquire.Synthetic)
	require.True(t, ok)

	require.Eventually(t, func() bool { return imu.State() == driver.StateRunning },
		2*time.Second, 5*time.Millisecond)

	// Three consecutive faults trip the gate.
	syn.SetFailing(true)
	require.Eventually(t, func() bool { return imu.State() == driver.StateDegraded },
		2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, imu.Faults(), uint64(3))

	// Degraded: the unit keeps cycling but production halts.
	produced := imu.Produced()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, produced, imu.Produced())

	// Reset with the fault gone resumes production within a few periods.
	syn.SetFailing(false)
	require.NoError(t, rt.Reset("imu"))
	require.Eventually(t, func() bool { return imu.Produced() > produced },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, driver.StateRunning, imu.State())
}
