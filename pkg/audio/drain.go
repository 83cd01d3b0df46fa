package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Consumers that stop early run it in a goroutine so a producer blocked on a
// full channel can finish and close it.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
