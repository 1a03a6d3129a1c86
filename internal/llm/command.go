package llm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command pipes the prompt into a local program (for example
// `ollama run llama3.2` or `claude -p`) and reads the reply from stdout.
type Command struct {
	argv    []string
	timeout time.Duration
}

// NewCommand creates a client that runs argv for every completion.
func NewCommand(argv []string, timeout time.Duration) *Command {
	return &Command{argv: argv, timeout: timeout}
}

// Complete runs the command with the persona and prompt on stdin.
func (c *Command) Complete(ctx context.Context, prompt string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Stdin = strings.NewReader(SystemPrompt + "\n\n" + prompt)

	// Keep service credentials out of the child process.
	cmd.Env = filterEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w (stderr: %s)", c.argv[0], err, strings.TrimSpace(stderr.String()))
	}

	return &Response{
		Content:  strings.TrimSpace(stdout.String()),
		Provider: "command",
	}, nil
}

// filterEnv removes SOLACE_* variables and API keys.
func filterEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		if strings.HasPrefix(e, "SOLACE_") || strings.HasPrefix(e, "ANTHROPIC_API_KEY=") {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}
