// Package build runs a project's install and build commands and streams
// their combined output line by line.
package build

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrBuildFailed marks a build that could not run or exited non-zero.
var ErrBuildFailed = errors.New("build failed")

const (
	maxLineBytes = 1 << 20
	// waitDelay bounds how long Wait keeps copying output after the
	// process group was killed.
	waitDelay = 5 * time.Second
)

// PackageManager names a JavaScript package manager.
type PackageManager string

const (
	NPM  PackageManager = "npm"
	Yarn PackageManager = "yarn"
	PNPM PackageManager = "pnpm"
)

// Step is one command of a build plan.
type Step struct {
	Name string
	Args []string
}

func (s Step) String() string {
	return strings.TrimSpace(s.Name + " " + strings.Join(s.Args, " "))
}

// Plan is the ordered list of commands run in Dir.
type Plan struct {
	Dir   string
	Steps []Step
}

// Detect builds the plan for dir. A non-empty override replaces the
// detected commands and runs through sh.
func Detect(dir, override string) (Plan, error) {
	if override = strings.TrimSpace(override); override != "" {
		return Plan{Dir: dir, Steps: []Step{{Name: "sh", Args: []string{"-c", override}}}}, nil
	}
	pm, err := DetectPackageManager(dir)
	if err != nil {
		return Plan{}, err
	}
	var steps []Step
	switch pm {
	case Yarn:
		steps = []Step{{Name: "yarn", Args: []string{"install"}}, {Name: "yarn", Args: []string{"run", "build"}}}
	case PNPM:
		steps = []Step{{Name: "pnpm", Args: []string{"install"}}, {Name: "pnpm", Args: []string{"run", "build"}}}
	default:
		steps = []Step{{Name: "npm", Args: []string{"install"}}, {Name: "npm", Args: []string{"run", "build"}}}
	}
	return Plan{Dir: dir, Steps: steps}, nil
}

// DetectPackageManager prefers the packageManager field of package.json,
// then lockfiles, then npm.
func DetectPackageManager(dir string) (PackageManager, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: package.json not found", ErrBuildFailed)
		}
		return "", fmt.Errorf("%w: read package.json: %w", ErrBuildFailed, err)
	}
	var manifest struct {
		PackageManager string `json:"packageManager"`
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return "", fmt.Errorf("%w: parse package.json: %w", ErrBuildFailed, err)
	}
	name, _, _ := strings.Cut(strings.TrimSpace(manifest.PackageManager), "@")
	switch PackageManager(name) {
	case NPM, Yarn, PNPM:
		return PackageManager(name), nil
	}
	if exists(filepath.Join(dir, "pnpm-lock.yaml")) {
		return PNPM, nil
	}
	if exists(filepath.Join(dir, "yarn.lock")) {
		return Yarn, nil
	}
	return NPM, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Run executes each step in order, sending every output line to onLine as
// it is produced. The first failing step stops the plan.
func Run(ctx context.Context, plan Plan, env []string, onLine func(string)) error {
	for _, step := range plan.Steps {
		if err := runStep(ctx, plan.Dir, step, env, onLine); err != nil {
			return err
		}
	}
	return nil
}

func runStep(ctx context.Context, dir string, step Step, env []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, step.Name, step.Args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	// Package managers fork shells and node processes; cancelling must reach
	// all of them or an orphan holding the pipe keeps Wait blocked.
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	// One pipe for both streams keeps stdout and stderr in emission order.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return fmt.Errorf("%w: start %s: %w", ErrBuildFailed, step.Name, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		scanner.Split(scanChunkedLines)
		for scanner.Scan() {
			if line := strings.TrimRight(scanner.Text(), "\r"); line != "" {
				onLine(line)
			}
		}
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, pr)
	}()

	waitErr := cmd.Wait()
	_ = pw.Close()
	<-done

	if waitErr != nil {
		if ctx.Err() != nil || errors.Is(waitErr, exec.ErrWaitDelay) {
			return fmt.Errorf("%w: %s: %w", ErrBuildFailed, step, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("%w: exit status %d", ErrBuildFailed, exitErr.ExitCode())
		}
		return fmt.Errorf("%w: %s: %w", ErrBuildFailed, step, waitErr)
	}
	return nil
}

// scanChunkedLines splits like bufio.ScanLines but emits a line longer than
// maxLineBytes as several chunks instead of stopping the scanner.
func scanChunkedLines(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= maxLineBytes {
		return maxLineBytes, data[:maxLineBytes], nil
	}
	return advance, token, err
}
