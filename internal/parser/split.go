package parser

import (
	"context"
	"io"

	"github.com/sells-group/trialsync/internal/fetcher"
)

// SplitFullStudies streams each FullStudy element of a multi-study API
// response as a standalone document suitable for Parse. Both channels are
// closed when the response is exhausted.
func SplitFullStudies(ctx context.Context, r io.Reader) (<-chan []byte, <-chan error) {
	elems, errs := fetcher.StreamXML[fetcher.RawElement](ctx, r, "FullStudy")
	out := make(chan []byte, 16)

	go func() {
		defer close(out)
		for el := range elems {
			select {
			case out <- el.Bytes():
			case <-ctx.Done():
				// Keep draining so the decoder goroutine can exit.
				for range elems {
				}
				return
			}
		}
	}()

	return out, errs
}
