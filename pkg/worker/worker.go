package worker

import (
	"errors"
	"sync"
	"time"
)

// Errors that may occur when sending tasks to a worker.
var (
	ErrWorkerClosed  = errors.New("worker is closed")
	ErrWorkerTooBusy = errors.New("worker is already overloaded")
)

// Configuration for the worker.
type Config[T any] struct {
	// The size of the bounded channel.
	ChannelSize int
	// Timeout after which `OnTimeout` is called.
	Timeout time.Duration
	// A closure that is called once `Timeout` is reached.
	OnTimeout func()
	// A closure that is executed upon reception of a task.
	OnTask func(T)
}

// Worker consumes tasks on its own goroutine so that the producer never
// blocks. The channel is wrapped in a struct so that it can be closed from
// the outside while senders can still detect the closed state.
type Worker[T any] struct {
	channel chan<- T
	mutex   sync.Mutex
	closed  bool
}

// Stop the worker unless already stopped.
func (w *Worker[T]) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.closed {
		close(w.channel)
		w.closed = true
	}
}

// Send a task to the worker without blocking. Returns `ErrWorkerTooBusy`
// if the queue is full and `ErrWorkerClosed` if the worker is stopped.
func (w *Worker[T]) Send(task T) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.closed {
		// Not blocking here is the whole point of this component: a slow
		// consumer must never stall the producer.
		select {
		case w.channel <- task:
			return nil
		default:
			return ErrWorkerTooBusy
		}
	}

	return ErrWorkerClosed
}

// StartWorker spawns a worker that executes `c.OnTask` for every received
// task and `c.OnTimeout` if no task arrived for `c.Timeout`. The worker
// stops once `Stop` is called.
func StartWorker[T any](c Config[T]) *Worker[T] {
	incoming := make(chan T, c.ChannelSize)

	go func() {
		for {
			select {
			case task, ok := <-incoming:
				if !ok {
					return
				}
				c.OnTask(task)
			case <-time.After(c.Timeout):
				if c.OnTimeout != nil {
					c.OnTimeout()
				}
			}
		}
	}()

	return &Worker[T]{incoming, sync.Mutex{}, false}
}
