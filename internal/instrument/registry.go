package instrument

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drivetrain-rt/drivetrain/internal/channel"
	"github.com/drivetrain-rt/drivetrain/internal/logging"
	"github.com/drivetrain-rt/drivetrain/internal/sched"
)

// FaultSource exposes a driver's cumulative transient fault counter.
type FaultSource interface {
	Name() string
	Faults() uint64
}

// PendingSource exposes a notification set's pending-bit count.
type PendingSource interface {
	Owner() string
	Pending() int
}

// SkippedSource exposes a peek cursor's skipped-item counter.
type SkippedSource interface {
	Name() string
	Skipped() uint64
}

// NotifyStat is a point-in-time view of one notification set.
type NotifyStat struct {
	Owner   string `json:"owner"`
	Pending int    `json:"pending"`
}

// PeekStat is a point-in-time view of one peek cursor.
type PeekStat struct {
	Name    string `json:"name"`
	Skipped uint64 `json:"skipped"`
}

// Registry is the process-lifetime instrumentation table: one Record per
// scheduled unit plus the observation lists for channels, notification
// sets, fault sources, and peek cursors. It is an explicitly owned object
// passed by reference, created before any unit starts; all registration
// happens at initialization.
//
// Registry implements sched.SwitchHook; install it in the scheduler so run
// time is attributed on every core handoff.
type Registry struct {
	mu      sync.Mutex   // registration only
	records atomic.Value // map[string]*Record, copy-on-write

	units    []*sched.Unit
	channels []channel.Observable
	notifies []PendingSource
	faults   []FaultSource
	peeks    []SkippedSource

	samplerLagNs atomic.Int64
	samplerRuns  atomic.Uint64
	lastChannels atomic.Value // []channel.Stats

	log *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.NewNop()
	}
	r := &Registry{log: log}
	r.records.Store(map[string]*Record{})
	r.lastChannels.Store([]channel.Stats{})
	return r
}

// RegisterUnit creates the record for a scheduled unit. The unit gets no
// mutation rights; only the hook and sampler write to the record.
func (r *Registry) RegisterUnit(u *sched.Unit) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.records.Load().(map[string]*Record)
	if _, exists := old[u.Name()]; exists {
		return nil, fmt.Errorf("instrument: unit %q already registered", u.Name())
	}

	rec := &Record{name: u.Name()}
	next := make(map[string]*Record, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[u.Name()] = rec
	r.records.Store(next)
	r.units = append(r.units, u)
	return rec, nil
}

// RegisterChannel adds a channel to the sampler's observation list.
func (r *Registry) RegisterChannel(c channel.Observable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, c)
}

// RegisterNotify adds a notification set to the observation list.
func (r *Registry) RegisterNotify(s PendingSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifies = append(r.notifies, s)
}

// RegisterFaultSource adds a driver's fault counter to the sampler's list.
func (r *Registry) RegisterFaultSource(f FaultSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults = append(r.faults, f)
}

// RegisterPeeker adds a peek cursor's skip counter to the observation list.
func (r *Registry) RegisterPeeker(s SkippedSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peeks = append(r.peeks, s)
}

// OnSwitch implements sched.SwitchHook. Lock-free: registration is closed
// before units start, so the record map read here is stable.
func (r *Registry) OnSwitch(outgoing, incoming string, at time.Time) {
	records := r.records.Load().(map[string]*Record)
	if outgoing != "" {
		if rec, ok := records[outgoing]; ok {
			rec.switchOut(at)
		}
	}
	if incoming != "" {
		if rec, ok := records[incoming]; ok {
			rec.switchIn(at)
		}
	}
}

// Record returns the record for a unit name.
func (r *Registry) Record(name string) (*Record, bool) {
	records := r.records.Load().(map[string]*Record)
	rec, ok := records[name]
	return rec, ok
}

// Snapshots returns copies of every record, sorted by unit name.
func (r *Registry) Snapshots() []Snapshot {
	records := r.records.Load().(map[string]*Record)
	out := make([]Snapshot, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ChannelStats returns the sampler's latest per-channel snapshot.
func (r *Registry) ChannelStats() []channel.Stats {
	return r.lastChannels.Load().([]channel.Stats)
}

// NotifyStats reads the current pending counts.
func (r *Registry) NotifyStats() []NotifyStat {
	r.mu.Lock()
	sources := r.notifies
	r.mu.Unlock()

	out := make([]NotifyStat, 0, len(sources))
	for _, s := range sources {
		out = append(out, NotifyStat{Owner: s.Owner(), Pending: s.Pending()})
	}
	return out
}

// PeekStats reads the current skipped-item counts.
func (r *Registry) PeekStats() []PeekStat {
	r.mu.Lock()
	sources := r.peeks
	r.mu.Unlock()

	out := make([]PeekStat, 0, len(sources))
	for _, s := range sources {
		out = append(out, PeekStat{Name: s.Name(), Skipped: s.Skipped()})
	}
	return out
}

// SamplerLag returns the sampler's most recent period overrun. Zero means
// the sampler is keeping up.
func (r *Registry) SamplerLag() time.Duration {
	return time.Duration(r.samplerLagNs.Load())
}

// SamplerRuns returns how many sampling passes have completed.
func (r *Registry) SamplerRuns() uint64 {
	return r.samplerRuns.Load()
}
