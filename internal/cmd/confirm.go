package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

type confirmKey struct{}

// SetAutoApprove stores the --yes flag value on the command context so that
// prompts further down can read it without rebinding flags.
func SetAutoApprove(cmd *cobra.Command, approved bool) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, confirmKey{}, approved))
}

// AutoApproveEnabled reports whether the user opted to skip confirmation prompts.
func AutoApproveEnabled(helper Helper) bool {
	if helper == nil || helper.GetCmd() == nil {
		return false
	}
	approved, _ := helper.GetContext().Value(confirmKey{}).(bool)
	return approved
}

// LineReader yields input one line at a time. Lines are read on a single
// goroutine so prompts and the main input loop can share one reader.
type LineReader struct {
	lines chan string
	err   error
	done  chan struct{}
}

// NewLineReader starts reading in. The channel returned by Lines is closed
// at end of input.
func NewLineReader(in io.Reader) *LineReader {
	r := &LineReader{
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(r.lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case r.lines <- scanner.Text():
			case <-r.done:
				return
			}
		}
		r.err = scanner.Err()
	}()
	return r
}

// Lines returns the input channel.
func (r *LineReader) Lines() <-chan string {
	return r.lines
}

// Next blocks for one line. It returns io.EOF at end of input.
func (r *LineReader) Next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-r.lines:
		if !ok {
			if r.err != nil {
				return "", r.err
			}
			return "", io.EOF
		}
		return line, nil
	}
}

// Close stops the reader goroutine once its pending read returns.
func (r *LineReader) Close() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// Confirm asks a yes/no question unless auto approval is on. Anything but
// y or yes declines.
func Confirm(helper Helper, input *LineReader, question string) (bool, error) {
	if AutoApproveEnabled(helper) {
		return true, nil
	}
	fmt.Fprintf(helper.GetStreams().Out, "%s [y/N]: ", question)

	line, err := input.Next(helper.GetContext())
	if err != nil {
		fmt.Fprintln(helper.GetStreams().Out)
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
