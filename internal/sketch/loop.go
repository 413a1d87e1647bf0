package sketch

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Greeting is written once when the loop starts.
const Greeting = "Sistema listo"

// Run is the board's main loop.  It reads one byte at a time, feeds the
// command buffer and dispatches each complete line before reading again, so
// a WAIT stalls ingestion for its whole duration.  A zero-byte read (serial
// read timeout) just polls again.  Run returns nil on EOF or when ctx is
// done; ctx is only observed between reads.
func Run(ctx context.Context, rw io.ReadWriter, d *Dispatcher) error {
	if _, err := fmt.Fprintf(rw, "%s\r\n", Greeting); err != nil {
		return fmt.Errorf("write greeting: %w", err)
	}
	var buf Buffer
	b := make([]byte, 1)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := rw.Read(b)
		if n == 1 {
			if line, ok := buf.Feed(b[0]); ok && line != "" {
				if err := d.Dispatch(rw, line); err != nil {
					return fmt.Errorf("write reply: %w", err)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}
