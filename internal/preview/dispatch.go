package preview

import "sync"

// Dispatcher runs callbacks on the interactive goroutine, the one that owns
// the UI state. Post must not run fn on the caller's stack.
type Dispatcher interface {
	Post(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

// Post calls f(fn).
func (f DispatcherFunc) Post(fn func()) { f(fn) }

// Loop is a Dispatcher backed by its own goroutine. Callbacks run one at a
// time in the order they were posted. It is what non-interactive callers
// (the CLI) use.
type Loop struct {
	queue     chan func()
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLoop starts a loop.
func NewLoop() *Loop {
	l := &Loop{
		queue: make(chan func(), 16),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn. Callbacks posted after Close are dropped.
func (l *Loop) Post(fn func()) {
	select {
	case <-l.stop:
		return
	default:
	}
	select {
	case l.queue <- fn:
	case <-l.stop:
	}
}

// Close runs the callbacks already queued and stops the loop.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.stop) })
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.queue:
			fn()
		case <-l.stop:
			for {
				select {
				case fn := <-l.queue:
					fn()
				default:
					return
				}
			}
		}
	}
}
