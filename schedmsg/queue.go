package schedmsg

import (
	"errors"
	"sync"

	"golang.org/x/exp/constraints"
)

type (
	// Queue is a bounded FIFO of messages, with a power of two capacity.
	// It is safe for concurrent use, though in practice there is a single
	// consumer (the owning scheduler), and many producers.
	//
	// Instances must be initialized using the NewQueue factory.
	Queue struct {
		s    []Message
		head uint // total enqueued, not masked
		tail uint // total dequeued, not masked
		mu   sync.Mutex
	}
)

// MaxCapacity is the largest capacity a Queue may be allocated with.
const MaxCapacity = 1 << 16

// ErrAllocation is returned by NewQueue, if a queue of the requested size
// cannot be allocated.
var ErrAllocation = errors.New(`schedmsg: queue allocation failed`)

// NewQueue allocates a queue, with capacity rounded up to the next power of
// two, that is >= requested.
func NewQueue(requested int) (*Queue, error) {
	if requested <= 0 || requested > MaxCapacity {
		return nil, ErrAllocation
	}
	return &Queue{s: make([]Message, ceilPow2(uint(requested)))}, nil
}

func ceilPow2[T constraints.Unsigned](v T) T {
	n := T(1)
	for n < v {
		n <<= 1
		if n == 0 {
			panic(`schedmsg: ceil pow2: overflow`)
		}
	}
	return n
}

func (x *Queue) mask(val uint) uint {
	return val & (uint(len(x.s)) - 1)
}

func (x *Queue) check() {
	if x.s == nil {
		panic(`schedmsg: queue: use after free`)
	}
}

// Enqueue copies msg into the queue. It panics if the queue is full.
func (x *Queue) Enqueue(msg Message) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.check()
	if x.head-x.tail == uint(len(x.s)) {
		panic(`schedmsg: queue: enqueue: overflow`)
	}
	x.s[x.mask(x.head)] = msg
	x.head++
}

// Dequeue removes and returns the oldest message. It panics if the queue is
// empty.
func (x *Queue) Dequeue() Message {
	msg, ok := x.TryDequeue()
	if !ok {
		panic(`schedmsg: queue: dequeue: empty`)
	}
	return msg
}

// TryDequeue removes and returns the oldest message, if any.
func (x *Queue) TryDequeue() (msg Message, ok bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.check()
	if x.head == x.tail {
		return
	}
	i := x.mask(x.tail)
	msg, x.s[i] = x.s[i], Message{}
	x.tail++
	return msg, true
}

// Len returns the number of queued messages.
func (x *Queue) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return int(x.head - x.tail)
}

// Cap returns the capacity, which is always a power of two.
func (x *Queue) Cap() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.s)
}

// Empty returns true if no messages are queued.
func (x *Queue) Empty() bool { return x.Len() == 0 }

// Full returns true if the queue is at capacity. A freed queue is never
// full.
func (x *Queue) Full() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.s != nil && x.head-x.tail == uint(len(x.s))
}

// Free releases the backing storage. Any further use (other than Len, Cap,
// Empty, and Full) will panic. The caller must ensure there is no concurrent
// use.
func (x *Queue) Free() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.check()
	x.s = nil
	x.head = 0
	x.tail = 0
}
