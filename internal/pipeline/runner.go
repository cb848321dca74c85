package pipeline

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/vmware2scw/vmware2scw/internal/util"
)

// Runner executes conversion tooling. It exists so handler tests can swap
// in a recorder instead of shelling out.
type Runner interface {
	// Run executes the command, streaming combined output to log, and
	// returns the combined output.
	Run(ctx context.Context, log io.Writer, name string, args ...string) (string, error)
}

// ExecRunner shells out with exec.CommandContext. On cancellation the
// subprocess gets SIGTERM and a grace period rather than an immediate kill,
// so a conversion tool can close its output file instead of corrupting the
// artifact mid-write.
type ExecRunner struct{}

var _ Runner = (*ExecRunner)(nil)

func (ExecRunner) Run(ctx context.Context, log io.Writer, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 30 * time.Second

	var sb strings.Builder
	out := io.MultiWriter(&sb, scrubWriter{w: log})
	cmd.Stdout = out
	cmd.Stderr = out

	fmt.Fprintf(log, "+ %s %s\n", name, strings.Join(args, " "))
	err := cmd.Run()
	return sb.String(), err
}

// scrubWriter removes credentials before subprocess output reaches a log
// file.
type scrubWriter struct {
	w io.Writer
}

func (s scrubWriter) Write(p []byte) (int, error) {
	if s.w == nil {
		return len(p), nil
	}
	if _, err := s.w.Write([]byte(util.ScrubSecrets(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
