package sched

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/drivetrain-rt/drivetrain/internal/logging"
	"github.com/drivetrain-rt/drivetrain/internal/shared/id"
	"go.uber.org/zap"
)

// Scheduler owns the core slot shared by all registered units. At most one
// unit executes at a time; when the slot is released it is handed to the
// highest-priority waiter, FIFO within equal priorities. Every handoff is
// reported through the SwitchHook.
type Scheduler struct {
	mu      sync.Mutex
	units   map[string]*Unit
	current *Unit
	waiters waitQueue
	seq     uint64

	hook SwitchHook
	log  *logging.Logger
	wg   sync.WaitGroup
}

// New creates a scheduler. A nil hook is replaced with NopHook. The hook
// must be installed before any unit starts; there is no SetHook.
func New(log *logging.Logger, hook SwitchHook) *Scheduler {
	if hook == nil {
		hook = NopHook{}
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Scheduler{
		units: make(map[string]*Unit),
		hook:  hook,
		log:   log,
	}
}

// Register creates a unit. Names must be unique; registration happens at
// initialization only.
func (s *Scheduler) Register(name string, priority, stackBudget int) (*Unit, error) {
	if name == "" {
		return nil, fmt.Errorf("sched: unit name cannot be empty")
	}
	if stackBudget <= 0 {
		stackBudget = DefaultStackBudget
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.units[name]; exists {
		return nil, fmt.Errorf("sched: unit %q already registered", name)
	}

	u := &Unit{
		id:          id.NewUnitID(),
		name:        name,
		priority:    priority,
		stackBudget: stackBudget,
		sched:       s,
		grant:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	s.units[name] = u

	s.log.Debug("unit registered",
		zap.String("unit", name),
		zap.Int("priority", priority),
		zap.Int("stack_budget", stackBudget),
	)
	return u, nil
}

// Unit returns a registered unit by name.
func (s *Scheduler) Unit(name string) (*Unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[name]
	return u, ok
}

// Units returns all registered units sorted by name.
func (s *Scheduler) Units() []*Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Unit, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Current returns the name of the unit holding the core slot, or "" if idle.
func (s *Scheduler) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.name
}

// Wait blocks until every started unit has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// acquire blocks until u holds the core slot. Invariant: a nil current
// implies an empty wait queue, so the idle fast path never jumps the queue.
func (s *Scheduler) acquire(u *Unit) {
	s.mu.Lock()
	if s.current == nil {
		s.current = u
		// Fired under mu so hooks observe handoffs in slot order.
		s.hook.OnSwitch("", u.name, time.Now())
		s.mu.Unlock()
		return
	}
	s.seq++
	heap.Push(&s.waiters, &waiter{unit: u, seq: s.seq})
	s.mu.Unlock()

	<-u.grant
}

// release hands the core slot to the highest-priority waiter, if any.
func (s *Scheduler) release(u *Unit) {
	s.mu.Lock()
	var next *Unit
	if s.waiters.Len() > 0 {
		next = heap.Pop(&s.waiters).(*waiter).unit
	}
	s.current = next

	in := ""
	if next != nil {
		in = next.name
	}
	s.hook.OnSwitch(u.name, in, time.Now())
	s.mu.Unlock()

	if next != nil {
		next.grant <- struct{}{}
	}
}

// waiter is a queue entry; seq breaks priority ties in FIFO order.
type waiter struct {
	unit *Unit
	seq  uint64
}

type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].unit.priority != q[j].unit.priority {
		return q[i].unit.priority > q[j].unit.priority
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *waitQueue) Push(x interface{}) { *q = append(*q, x.(*waiter)) }

func (q *waitQueue) Pop() interface{} {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return w
}
