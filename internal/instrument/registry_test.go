package instrument

import (
	"context"
	"testing"
	"time"

	"github.com/drivetrain-rt/drivetrain/internal/channel"
	"github.com/drivetrain-rt/drivetrain/internal/notify"
	"github.com/drivetrain-rt/drivetrain/internal/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterUnit(t *testing.T) {
	r := NewRegistry(nil)
	s := sched.New(nil, r)

	u, err := s.Register("imu", 5, 0)
	require.NoError(t, err)

	rec, err := r.RegisterUnit(u)
	require.NoError(t, err)
	assert.Equal(t, "imu", rec.Name())

	_, err = r.RegisterUnit(u)
	assert.Error(t, err, "duplicate registration rejected")
}

func TestHookAttributesRunTime(t *testing.T) {
	r := NewRegistry(nil)
	s := sched.New(nil, r)

	u, err := s.Register("worker", 1, 0)
	require.NoError(t, err)
	_, err = r.RegisterUnit(u)
	require.NoError(t, err)

	u.Start(context.Background(), func(ctx context.Context) {
		// Two slices separated by a suspension.
		time.Sleep(10 * time.Millisecond)
		u.Sleep(ctx, 5*time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	})
	s.Wait()

	rec, ok := r.Record("worker")
	require.True(t, ok)
	snap := rec.Snapshot()

	assert.GreaterOrEqual(t, snap.CumRunTime, 20*time.Millisecond)
	assert.Less(t, snap.CumRunTime, 100*time.Millisecond, "suspended time is not attributed")
	assert.GreaterOrEqual(t, snap.ExecCount, uint64(2))
	assert.Greater(t, snap.MinInterval, time.Duration(0))
	assert.GreaterOrEqual(t, snap.MaxInterval, snap.MinInterval)
}

func TestSnapshotsSorted(t *testing.T) {
	r := NewRegistry(nil)
	s := sched.New(nil, r)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		u, err := s.Register(name, 1, 0)
		require.NoError(t, err)
		_, err = r.RegisterUnit(u)
		require.NoError(t, err)
	}

	snaps := r.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, "alpha", snaps[0].Name)
	assert.Equal(t, "mid", snaps[1].Name)
	assert.Equal(t, "zeta", snaps[2].Name)
}

func TestHookIgnoresUnknownUnits(t *testing.T) {
	r := NewRegistry(nil)

	// Hook calls for units without records must not panic.
	r.OnSwitch("ghost", "phantom", time.Now())
	r.OnSwitch("", "phantom", time.Now())
	r.OnSwitch("ghost", "", time.Now())
}

func TestNotifyAndPeekStats(t *testing.T) {
	r := NewRegistry(nil)

	set := notify.NewSet("display", nil)
	r.RegisterNotify(set)

	set.Notify(1)
	set.Notify(2)

	stats := r.NotifyStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "display", stats[0].Owner)
	assert.Equal(t, 2, stats[0].Pending)

	ring, err := channel.NewRing[int]("c", 2, channel.DropOldest)
	require.NoError(t, err)
	cursor, err := ring.RegisterPeeker("display", nil)
	require.NoError(t, err)
	r.RegisterPeeker(cursor)

	for i := 0; i < 5; i++ {
		ring.Write(i)
	}
	_, err = cursor.Peek(context.Background(), 0)
	require.NoError(t, err)

	peeks := r.PeekStats()
	require.Len(t, peeks, 1)
	assert.Equal(t, uint64(3), peeks[0].Skipped)
}

func TestSamplerCollectsStackAndChannels(t *testing.T) {
	r := NewRegistry(nil)
	s := sched.New(nil, r)

	worker, err := s.Register("worker", 5, 32*1024)
	require.NoError(t, err)
	_, err = r.RegisterUnit(worker)
	require.NoError(t, err)

	ring, err := channel.NewRing[int]("worker.out", 4, channel.RejectNewest)
	require.NoError(t, err)
	r.RegisterChannel(ring)

	samplerUnit, err := s.Register("sampler", 0, 0)
	require.NoError(t, err)
	_, err = r.RegisterUnit(samplerUnit)
	require.NoError(t, err)

	sampler, err := NewSampler(r, samplerUnit, 10*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker.Start(ctx, func(wctx context.Context) {
		for i := 0; i < 20; i++ {
			ring.Write(i)
			worker.ProbeStack()
			if worker.Sleep(wctx, 5*time.Millisecond) != nil {
				return
			}
		}
	})
	sampler.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for r.SamplerRuns() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, r.SamplerRuns(), uint64(3))

	rec, ok := r.Record("worker")
	require.True(t, ok)
	snap := rec.Snapshot()
	assert.Greater(t, snap.StackHighWater, int64(0))
	assert.Greater(t, snap.StackSamples, uint64(0))
	assert.Equal(t, snap.StackHeadroom, int64(32*1024)-snap.StackHighWater)

	chans := r.ChannelStats()
	require.Len(t, chans, 1)
	assert.Equal(t, "worker.out", chans[0].Name)
	assert.Equal(t, 4, chans[0].Depth)
	assert.Greater(t, chans[0].Overflow, uint64(0))

	cancel()
	s.Wait()
}

func TestSamplerLagMetaMetric(t *testing.T) {
	r := NewRegistry(nil)
	assert.Equal(t, time.Duration(0), r.SamplerLag())

	// Lag is stored by the sampler loop; simulate a starved pass.
	r.samplerLagNs.Store(int64(250 * time.Millisecond))
	assert.Equal(t, 250*time.Millisecond, r.SamplerLag())
}

func TestFaultSourceCopiedBySampler(t *testing.T) {
	r := NewRegistry(nil)
	s := sched.New(nil, r)

	u, err := s.Register("imu", 5, 0)
	require.NoError(t, err)
	_, err = r.RegisterUnit(u)
	require.NoError(t, err)

	r.RegisterFaultSource(staticFaults{name: "imu", n: 7})

	samplerUnit, err := s.Register("sampler", 0, 0)
	require.NoError(t, err)
	sampler, err := NewSampler(r, samplerUnit, time.Hour, nil)
	require.NoError(t, err)
	sampler.pass()

	rec, _ := r.Record("imu")
	assert.Equal(t, uint64(7), rec.Snapshot().Faults)
}

type staticFaults struct {
	name string
	n    uint64
}

func (f staticFaults) Name() string   { return f.name }
func (f staticFaults) Faults() uint64 { return f.n }
