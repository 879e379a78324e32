package policy

import (
	"math/rand/v2"

	"github.com/joeycumines/go-cpuinherit/threads"
)

type (
	// Lottery runs a ready thread chosen at random, weighted by its tickets.
	// Threads are admitted with their creation opaque value as tickets, and
	// a KindSetState message sets the tickets to its opaque value. Zero
	// tickets are treated as one. Instances must be initialized using the
	// NewLottery factory.
	Lottery struct {
		rng     *rand.Rand
		tickets map[threads.ThreadID]uint64
		ready   []threads.ThreadID
	}
)

var _ Policy = (*Lottery)(nil)

// NewLottery initializes a Lottery, drawing from a PCG source seeded with
// seed.
func NewLottery(seed uint64) *Lottery {
	return &Lottery{
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		tickets: make(map[threads.ThreadID]uint64),
	}
}

func (x *Lottery) Admit(tid threads.ThreadID, opaque, _ uint64) {
	x.tickets[tid] = max(opaque, 1)
}

func (x *Lottery) Update(tid threads.ThreadID, opaque uint64) {
	if _, ok := x.tickets[tid]; ok {
		x.tickets[tid] = max(opaque, 1)
	}
}

func (x *Lottery) Remove(tid threads.ThreadID) {
	delete(x.tickets, tid)
	x.take(tid)
}

// Ready adds tid to the draw. The order of ready threads does not matter.
func (x *Lottery) Ready(tid threads.ThreadID, _ bool) {
	if _, ok := x.tickets[tid]; !ok {
		return
	}
	for _, v := range x.ready {
		if v == tid {
			return
		}
	}
	x.ready = append(x.ready, tid)
}

func (x *Lottery) Next() (threads.ThreadID, bool) {
	if len(x.ready) == 0 {
		return 0, false
	}
	var total uint64
	for _, tid := range x.ready {
		total += x.tickets[tid]
	}
	draw := x.rng.Uint64N(total)
	for i, tid := range x.ready {
		n := x.tickets[tid]
		if draw < n {
			x.ready = append(x.ready[:i], x.ready[i+1:]...)
			return tid, true
		}
		draw -= n
	}
	panic(`policy: lottery: draw out of range`)
}

// Tickets returns the tickets held by tid, or 0 if it is not admitted.
func (x *Lottery) Tickets(tid threads.ThreadID) uint64 { return x.tickets[tid] }

func (x *Lottery) take(tid threads.ThreadID) {
	for i, v := range x.ready {
		if v == tid {
			x.ready = append(x.ready[:i], x.ready[i+1:]...)
			return
		}
	}
}
