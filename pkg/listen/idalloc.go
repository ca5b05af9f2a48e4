package listen

import (
	"errors"
	"sort"

	"github.com/technomunk/gnet/pkg/parcel"
)

// ErrOutOfIDs means every connection id is assigned to a live connection.
var ErrOutOfIDs = errors.New("listen: out of connection ids")

// idAllocator hands out connection ids, guaranteeing no two live connections
// share one. Id 0 is reserved as "no connection". Released ids return to a
// sorted free list and are reused highest-first; releasing the highest
// assigned id shrinks the allocation watermark instead.
type idAllocator struct {
	last parcel.ConnectionID
	free []parcel.ConnectionID
}

func (a *idAllocator) allocate() (parcel.ConnectionID, error) {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		return id, nil
	}
	if a.last == ^parcel.ConnectionID(0) {
		return 0, ErrOutOfIDs
	}
	a.last++
	return a.last, nil
}

func (a *idAllocator) release(id parcel.ConnectionID) {
	if id == 0 || id > a.last {
		return
	}
	if id == a.last {
		a.last--
		for n := len(a.free); n > 0 && a.free[n-1] == a.last; n = len(a.free) {
			a.free = a.free[:n-1]
			a.last--
		}
		return
	}
	at := sort.Search(len(a.free), func(i int) bool { return a.free[i] >= id })
	if at < len(a.free) && a.free[at] == id {
		return // already free
	}
	a.free = append(a.free, 0)
	copy(a.free[at+1:], a.free[at:])
	a.free[at] = id
}
