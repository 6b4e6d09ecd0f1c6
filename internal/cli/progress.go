// Package cli holds the small terminal-feedback pieces used by the ori-push
// command: a spinner for indeterminate phases
// (resolving refs, negotiating) and a determinate counter for the
// upload-objects phase, plus color helpers. Grounded on the retrieval
// pack's CLI-facing repo (make-os-kit), which pulls in briandowns/spinner,
// fatih/color and dustin/go-humanize for exactly this kind of push/pull
// progress reporting.
package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// Phase runs an indeterminate spinner with msg while fn executes, stopping
// it (successfully or not) when fn returns.
func Phase(out io.Writer, msg string, fn func() error) error {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(out))
	s.Suffix = " " + msg
	s.Start()
	err := fn()
	s.Stop()

	if err != nil {
		fmt.Fprintln(out, color.RedString("✗ %s: %v", msg, err))
		return err
	}
	fmt.Fprintln(out, color.GreenString("✓ %s", msg))
	return nil
}

// ObjectProgress reports determinate progress across an upload of n
// objects totalling totalBytes, printed as each object completes.
type ObjectProgress struct {
	out        io.Writer
	total      int
	totalBytes int64
	done       int
	doneBytes  int64
}

// NewObjectProgress builds a progress reporter for total objects summing
// totalBytes.
func NewObjectProgress(out io.Writer, total int, totalBytes int64) *ObjectProgress {
	return &ObjectProgress{out: out, total: total, totalBytes: totalBytes}
}

// Advance records one more object of size bytes having completed and
// prints the running total.
func (p *ObjectProgress) Advance(objectName string, size int64) {
	p.done++
	p.doneBytes += size
	fmt.Fprintf(p.out, "  [%d/%d] %s (%s / %s)\n",
		p.done, p.total, objectName,
		humanize.Bytes(uint64(p.doneBytes)), humanize.Bytes(uint64(p.totalBytes)))
}

// Warn prints a yellow warning line, used for recoverable conditions like
// a retried upload.
func Warn(out io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(out, color.YellowString(format, args...))
}

// Fatal prints a red error line. Callers are responsible for the process
// exit code.
func Fatal(out io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(out, color.RedString(format, args...))
}
