package merging

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityLocks(t *testing.T) {
	t.Run("stripe is stable", func(t *testing.T) {
		locks := newEntityLocks()
		assert.Equal(t, locks.stripe("e1"), locks.stripe("e1"))
	})

	t.Run("lock pair serializes both orderings", func(t *testing.T) {
		locks := newEntityLocks()
		counter := 0

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				unlock := locks.lockPair("e1", "e2")
				counter++
				unlock()
			}()
			go func() {
				defer wg.Done()
				unlock := locks.lockPair("e2", "e1")
				counter++
				unlock()
			}()
		}
		wg.Wait()

		assert.Equal(t, 100, counter)
	})

	t.Run("same entity on both sides locks once", func(t *testing.T) {
		locks := newEntityLocks()
		unlock := locks.lockPair("e1", "e1")
		unlock()
		unlock = locks.lockPair("e1", "e1")
		unlock()
	})
}

func TestMergeErrors(t *testing.T) {
	assert.Contains(t, (&CircularMergeError{SourceID: "a", TargetID: "b"}).Error(), "redirect cycle")
	assert.Contains(t, (&CrossTypeError{SourceID: "a", SourceType: "person", TargetID: "b", TargetType: "org"}).Error(), "without override")
	assert.Contains(t, (&AlreadyMergedError{EntityID: "a", ResolvedTo: "b"}).Error(), "already merged")
}
