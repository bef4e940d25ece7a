package target

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/0xb-s/fuzzer/config"
)

const (
	// InputFileMarker in the argument list is replaced by a file holding the input
	InputFileMarker = "@@"

	stderrTail = 2048

	// after cancellation, how long to wait for a killed harness to release its pipes
	waitDelay = 500 * time.Millisecond
)

// Process runs an external harness once per input, feeding it on stdin or through an @@ file
type Process struct {
	Binary string
	Args   []string
	Env    []string
}

func NewProcess(name, binary string, args, env []string) *Target {
	return New(name, &Process{binary, args, env})
}

// Configured builds the process target named by TARGET_BINARY, carrying the sanitizer runtime options
func Configured(appConfig *config.AppConfig, cfg *config.FuzzerConfig) ([]*Target, error) {
	binary := appConfig.TargetConfig.Binary
	if binary == "" {
		return nil, errors.New("TARGET_BINARY is not set")
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("target binary %s: %w", binary, err)
	}
	name := filepath.Base(binary)
	return []*Target{NewProcess(name, binary, appConfig.TargetConfig.Args, cfg.SanitizerEnv())}, nil
}

func (p *Process) Execute(ctx context.Context, input []byte) error {
	args := p.Args
	useFile := false
	for _, a := range args {
		if strings.Contains(a, InputFileMarker) {
			useFile = true
			break
		}
	}

	cmd := exec.CommandContext(ctx, p.Binary)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.WaitDelay = waitDelay
	if useFile {
		f, err := os.CreateTemp("", "fuzz_input_*")
		if err != nil {
			return fmt.Errorf("failed to create input file: %w", err)
		}
		defer os.Remove(f.Name())
		_, werr := f.Write(input)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			return fmt.Errorf("failed to write input file: %w", err)
		}
		args = make([]string, len(p.Args))
		for i, a := range p.Args {
			args[i] = strings.ReplaceAll(a, InputFileMarker, f.Name())
		}
	} else {
		cmd.Stdin = bytes.NewReader(input)
	}
	cmd.Args = append([]string{p.Binary}, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("failed to run %s: %w", p.Binary, err)
	}
	tail := stderr.Bytes()
	if len(tail) > stderrTail {
		tail = tail[len(tail)-stderrTail:]
	}
	if len(bytes.TrimSpace(tail)) == 0 {
		return fmt.Errorf("%s", exitErr.ProcessState.String())
	}
	return fmt.Errorf("%s: %s", exitErr.ProcessState.String(), bytes.TrimSpace(tail))
}
