package merging

import (
	"hash/fnv"
	"sort"
	"sync"
)

const lockStripes = 64

// entityLocks serializes merges touching the same entities within this
// process. Cross-process races are caught by the version guard on the
// entities table.
type entityLocks struct {
	stripes [lockStripes]sync.Mutex
}

func newEntityLocks() *entityLocks {
	return &entityLocks{}
}

func (l *entityLocks) stripe(entityID string) int {
	h := fnv.New32a()
	h.Write([]byte(entityID))
	return int(h.Sum32() % lockStripes)
}

// lockPair acquires the stripes for both entities in ascending order so two
// merges over the same pair cannot deadlock. It returns the unlock function.
func (l *entityLocks) lockPair(a, b string) func() {
	sa, sb := l.stripe(a), l.stripe(b)
	if sa == sb {
		l.stripes[sa].Lock()
		return func() { l.stripes[sa].Unlock() }
	}

	order := []int{sa, sb}
	sort.Ints(order)
	l.stripes[order[0]].Lock()
	l.stripes[order[1]].Lock()
	return func() {
		l.stripes[order[1]].Unlock()
		l.stripes[order[0]].Unlock()
	}
}
