// Package channel carries values from the simulation step to whoever polls them,
// such as wheel poses waiting for the host's next :VEHICLE:POSES: call.
package channel

// Receiver provides read access to a channel.
type Receiver[T any] interface {
	Receive() <-chan T
	// Drain takes up to limit values without blocking; limit <= 0 takes all that are queued.
	Drain(limit int) []T
	Len() int
}

// Sender provides write access to a channel.
type Sender[T any] interface {
	Send(T)
	// TrySend never blocks. It reports false when the value was dropped.
	TrySend(T) bool
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
	Close()
}

// pipe wraps a Go channel. Its capacity decides whether producers ever wait.
type pipe[T any] struct {
	ch chan T
}

// NewBuffered returns a channel that queues up to size values.
func NewBuffered[T any](size int) Channel[T] {
	return &pipe[T]{ch: make(chan T, size)}
}

// NewUnbuffered returns a channel whose TrySend only succeeds while a receiver waits.
func NewUnbuffered[T any]() Channel[T] {
	return &pipe[T]{ch: make(chan T)}
}

func (p *pipe[T]) Send(v T) {
	p.ch <- v
}

func (p *pipe[T]) TrySend(v T) bool {
	select {
	case p.ch <- v:
		return true
	default:
		return false
	}
}

func (p *pipe[T]) Receive() <-chan T {
	return p.ch
}

func (p *pipe[T]) Drain(limit int) []T {
	out := make([]T, 0, min(max(limit, 0), len(p.ch)))
	for limit <= 0 || len(out) < limit {
		select {
		case v, ok := <-p.ch:
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
	return out
}

func (p *pipe[T]) Len() int {
	return len(p.ch)
}

func (p *pipe[T]) Close() {
	close(p.ch)
}
