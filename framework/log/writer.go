package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type wcOutput struct {
	timestamps bool
	wc         io.WriteCloser
}

func (w wcOutput) Write(stamp time.Time, debug bool, msg string) {
	var b strings.Builder
	if w.timestamps {
		b.WriteString(stamp.UTC().Format("2006-01-02T15:04:05.000Z "))
	}
	if debug {
		b.WriteString("[debug] ")
	}
	b.WriteString(msg)
	b.WriteByte('\n')
	if _, err := io.WriteString(w.wc, b.String()); err != nil {
		fmt.Fprintf(os.Stderr, "!!! failed to write log message: %v\n", err)
	}
}

func (w wcOutput) Close() error { return w.wc.Close() }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// WriterOutput writes formatted messages, with a millisecond-precision
// timestamp when timestamps is true and a "[debug] " prefix on debug
// messages, to w. Close on the returned Output is a no-op.
func WriterOutput(w io.Writer, timestamps bool) Output {
	return wcOutput{timestamps, nopCloser{w}}
}
