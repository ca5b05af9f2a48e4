package endpoint

import (
	"github.com/technomunk/gnet/pkg/transport"
)

// Outbound traffic classes. Control frames (handshake answers, connection
// requests, standalone acks) always drain before data.
type class int

const (
	classControl class = iota
	classData
	numClasses
)

type item struct {
	to      transport.Address
	payload []byte
}

type level struct {
	flows map[transport.Address][]item
	order []transport.Address
	idx   int
}

// outQueue schedules outbound buffers with strict priority between classes
// and per-packet round-robin between destinations within a class, so one
// chatty peer cannot starve the rest. Parcels are uniformly small, which
// makes byte-based scheduling unnecessary. The queue is driven by the
// single endpoint loop and needs no locking.
type outQueue struct {
	lvls [numClasses]*level
}

func newOutQueue() *outQueue {
	q := &outQueue{}
	for i := range q.lvls {
		q.lvls[i] = &level{flows: make(map[transport.Address][]item)}
	}
	return q
}

func (q *outQueue) push(c class, to transport.Address, payload []byte) {
	lvl := q.lvls[c]
	if _, ok := lvl.flows[to]; !ok {
		lvl.order = append(lvl.order, to)
	}
	lvl.flows[to] = append(lvl.flows[to], item{to: to, payload: payload})
}

func (q *outQueue) pop() (item, bool) {
	for c := class(0); c < numClasses; c++ {
		lvl := q.lvls[c]
		if len(lvl.order) == 0 {
			continue
		}
		if lvl.idx >= len(lvl.order) {
			lvl.idx = 0
		}
		key := lvl.order[lvl.idx]
		f := lvl.flows[key]
		it := f[0]
		if len(f) == 1 {
			// Drained; drop the flow and its round-robin slot so a
			// long-lived endpoint does not accumulate ephemeral peers.
			delete(lvl.flows, key)
			lvl.order = append(lvl.order[:lvl.idx], lvl.order[lvl.idx+1:]...)
		} else {
			lvl.flows[key] = f[1:]
			lvl.idx++
		}
		return it, true
	}
	return item{}, false
}

func (q *outQueue) empty() bool {
	for _, lvl := range q.lvls {
		if len(lvl.flows) > 0 {
			return false
		}
	}
	return true
}
