package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrCloneFailed wraps any clone failure.
var ErrCloneFailed = errors.New("git clone failed")

const maxOutputInError = 2048

// Clone shallow-clones repoURL into dest, which must exist and be empty.
func Clone(ctx context.Context, repoURL, dest string) error {
	if strings.TrimSpace(repoURL) == "" {
		return fmt.Errorf("%w: repository URL cannot be empty", ErrCloneFailed)
	}
	if dest == "" {
		return fmt.Errorf("%w: destination cannot be empty", ErrCloneFailed)
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--", repoURL, ".")
	cmd.Dir = dest
	// Never prompt for credentials; a private repo without access fails fast.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=echo")
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCloneFailed, ctx.Err())
		}
		return fmt.Errorf("%w: %w: %s", ErrCloneFailed, err, tail(output))
	}
	return nil
}

func tail(output []byte) string {
	text := strings.TrimSpace(string(output))
	if len(text) > maxOutputInError {
		text = "..." + text[len(text)-maxOutputInError:]
	}
	return text
}
