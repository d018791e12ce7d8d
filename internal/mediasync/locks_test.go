package mediasync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceLocks_SerializesSameDevice(t *testing.T) {
	locks := newDeviceLocks()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("d1")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Equal(t, 0, locks.size())
}

func TestDeviceLocks_IndependentDevices(t *testing.T) {
	locks := newDeviceLocks()

	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()
	<-done

	assert.Equal(t, 1, locks.size())
	unlockA()
	assert.Equal(t, 0, locks.size())
}
