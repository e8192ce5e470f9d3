package worker

import (
	"sync"
	"time"
)

// Size of the notification buffer of the watchdog. Large enough so that
// notifying producers practically never block.
const watchdogChannelSize = 512

// Configuration for the watchdog.
type WatchdogConfig struct {
	// Timeout after which `OnTimeout` is called.
	Timeout time.Duration
	// A closure that is called once `Timeout` is reached.
	OnTimeout func()
}

// Watchdog fires a callback when no liveness notification has been seen
// for a configured period of time.
type Watchdog struct {
	channel chan<- struct{}
	mutex   sync.Mutex
	closed  bool
}

// Close the watchdog unless already closed.
func (w *Watchdog) Close() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.closed {
		close(w.channel)
		w.closed = true
	}
}

// Notify the watchdog that the observed party is alive. Returns `false`
// if the watchdog is already closed.
func (w *Watchdog) Notify() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.closed {
		w.channel <- struct{}{}
		return true
	}

	return false
}

// Start a watchdog that executes `c.OnTimeout` each time no notification
// has been received for `c.Timeout`.
func (c WatchdogConfig) Start() *Watchdog {
	incoming := make(chan struct{}, watchdogChannelSize)

	go func() {
		for {
			select {
			case _, ok := <-incoming:
				if !ok {
					return
				}
			case <-time.After(c.Timeout):
				c.OnTimeout()
			}
		}
	}()

	return &Watchdog{incoming, sync.Mutex{}, false}
}
