package policy

import (
	"math/bits"

	"github.com/joeycumines/go-cpuinherit/threads"
)

type (
	// FixedPriority runs the highest priority ready thread, in FIFO order
	// within a priority level. Threads are admitted at their creation
	// priority, and a KindSetState message sets the priority to its opaque
	// value, clamped to threads.PriorityMax. Instances must be initialized
	// using the NewFixedPriority factory.
	FixedPriority struct {
		prio   map[threads.ThreadID]int
		levels [threads.PriorityMax + 1][]threads.ThreadID
		// bit i set if levels[i] is non-empty
		mask uint32
	}
)

var _ Policy = (*FixedPriority)(nil)

func NewFixedPriority() *FixedPriority {
	return &FixedPriority{prio: make(map[threads.ThreadID]int)}
}

func (x *FixedPriority) Admit(tid threads.ThreadID, _, priority uint64) {
	x.prio[tid] = clampPriority(priority)
}

// Update changes the priority of tid, moving it, if ready, to the back of
// its new level.
func (x *FixedPriority) Update(tid threads.ThreadID, opaque uint64) {
	old, ok := x.prio[tid]
	if !ok {
		return
	}
	p := clampPriority(opaque)
	if p == old {
		return
	}
	x.prio[tid] = p
	if x.remove(old, tid) {
		x.push(p, tid, false)
	}
}

func (x *FixedPriority) Remove(tid threads.ThreadID) {
	if p, ok := x.prio[tid]; ok {
		x.remove(p, tid)
		delete(x.prio, tid)
	}
}

func (x *FixedPriority) Ready(tid threads.ThreadID, front bool) {
	p, ok := x.prio[tid]
	if !ok {
		return
	}
	for _, v := range x.levels[p] {
		if v == tid {
			return
		}
	}
	x.push(p, tid, front)
}

func (x *FixedPriority) Next() (threads.ThreadID, bool) {
	if x.mask == 0 {
		return 0, false
	}
	p := bits.Len32(x.mask) - 1
	level := x.levels[p]
	tid := level[0]
	level[0] = 0
	x.levels[p] = level[1:]
	if len(x.levels[p]) == 0 {
		x.levels[p] = nil
		x.mask &^= 1 << p
	}
	return tid, true
}

// Len returns the number of ready threads.
func (x *FixedPriority) Len() (n int) {
	for _, level := range x.levels {
		n += len(level)
	}
	return
}

func (x *FixedPriority) push(p int, tid threads.ThreadID, front bool) {
	if front {
		x.levels[p] = append([]threads.ThreadID{tid}, x.levels[p]...)
	} else {
		x.levels[p] = append(x.levels[p], tid)
	}
	x.mask |= 1 << p
}

func (x *FixedPriority) remove(p int, tid threads.ThreadID) bool {
	level := x.levels[p]
	for i, v := range level {
		if v == tid {
			x.levels[p] = append(level[:i:i], level[i+1:]...)
			if len(x.levels[p]) == 0 {
				x.levels[p] = nil
				x.mask &^= 1 << p
			}
			return true
		}
	}
	return false
}

func clampPriority(v uint64) int {
	if v > threads.PriorityMax {
		return threads.PriorityMax
	}
	return int(v)
}
