//go:build debug

package channel

// New ignores size and returns an unbuffered channel, so any pose produced while
// nobody polls is dropped and counted.
func New[T any](size int) Channel[T] {
	return NewUnbuffered[T]()
}
