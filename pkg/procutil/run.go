package procutil

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	swerrors "shrinkwrap-tools/go/pkg/errors"
)

// Command describes one local process invocation.
type Command struct {
	Args  []string
	Dir   string
	Env   []string // nil inherits the current environment
	Stdin []byte
}

// Result is the captured outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes c and waits for it. A missing executable or a non-zero exit
// is returned as a subprocess-kind error carrying the captured output.
func Run(c Command) (*Result, error) {
	if len(c.Args) == 0 {
		return nil, swerrors.New(swerrors.KindSubprocess, "empty command")
	}
	cmd := exec.Command(c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, swerrors.Wrap(swerrors.KindSubprocess, err, "%s", formatFailure(c.Args, res))
	}
	if errors.Is(err, exec.ErrNotFound) {
		return res, swerrors.Wrap(swerrors.KindSubprocess, err, "command not found: %s", c.Args[0])
	}
	return res, swerrors.Wrap(swerrors.KindSubprocess, err, "failed to execute command: %s", strings.Join(c.Args, " "))
}

// LookPath resolves an executable name, returning a subprocess-kind error
// when it cannot be found.
func LookPath(name string) (string, error) {
	p, err := exec.LookPath(name)
	if err != nil {
		return "", swerrors.Wrap(swerrors.KindSubprocess, err, "command not found: %s", name)
	}
	return p, nil
}

func formatFailure(args []string, res *Result) string {
	lines := []string{
		fmt.Sprintf("command failed: %s", strings.Join(args, " ")),
		fmt.Sprintf("exit code: %d", res.ExitCode),
	}
	if out := strings.TrimSpace(res.Stdout); out != "" {
		lines = append(lines, "stdout:\n"+out)
	}
	if out := strings.TrimSpace(res.Stderr); out != "" {
		lines = append(lines, "stderr:\n"+out)
	}
	return strings.Join(lines, "\n")
}
