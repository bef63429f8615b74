// Package periodic runs a function on a fixed interval until told to stop.
package periodic

import (
	logger "log"
	"sync"
	"time"
)

// Task calls a function every interval on its own goroutine. Stop lets any in-flight call finish
// before returning, so the work done by the function is never cut off half way.
type Task struct {
	log      *logger.Logger
	name     string
	interval time.Duration
	work     func()
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// MakeTask builds a Task, call Start to begin running it.
func MakeTask(log *logger.Logger, name string, interval time.Duration, work func()) *Task {
	return &Task{
		log:      log,
		name:     name,
		interval: interval,
		work:     work,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start runs the task loop in a new goroutine. If wg is not nil it is held until the loop exits.
func (t *Task) Start(wg *sync.WaitGroup) {
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		t.loop()
	}()
}

func (t *Task) loop() {
	defer close(t.finished)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	t.log.Printf("starting %s every %v", t.name, t.interval)
	for {
		select {
		case <-t.done:
			t.log.Printf("ending %s on shutdown signal", t.name)
			return
		case <-ticker.C:
		}
		// a stop that arrived together with a tick wins
		select {
		case <-t.done:
			t.log.Printf("ending %s on shutdown signal", t.name)
			return
		default:
		}
		t.work()
	}
}

// Stop signals the loop to end and waits until it has. Safe to call more than once.
func (t *Task) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
	})
	<-t.finished
}
