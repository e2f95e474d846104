package stream

import (
	"context"
	"errors"
	"io"
)

const readChunkSize = 4096

// Fragments drives a Parser over r and delivers content fragments in order.
// Both channels are closed when the terminator is seen, r is exhausted, ctx
// is cancelled, or a read fails (the error is sent first). The caller owns r
// and must close it; cancelling ctx does not unblock a Read that is not
// itself tied to ctx.
func Fragments(ctx context.Context, r io.Reader, maxRetries int) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		p := NewParser(maxRetries)
		send := func(frags []string) bool {
			for _, f := range frags {
				select {
				case out <- f:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		buf := make([]byte, readChunkSize)
		for {
			if ctx.Err() != nil {
				return
			}
			n, err := r.Read(buf)
			if n > 0 {
				if !send(p.Push(buf[:n])) || p.Done() {
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					send(p.Flush())
					return
				}
				if ctx.Err() == nil {
					errCh <- err
				}
				return
			}
		}
	}()

	return out, errCh
}
