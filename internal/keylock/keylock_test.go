package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	var tbl Table
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := tbl.Lock("draft-1")
			defer unlock()
			v := counter
			v++
			counter = v
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, tbl.Len(), "all keys released")
}

func TestLockOverlappingKeysNoDeadlock(t *testing.T) {
	var tbl Table
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := tbl.Lock("a", "b")
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := tbl.Lock("b", "a", "a")
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, tbl.Len())
}
