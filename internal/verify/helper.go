package verify

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultHelperPath is where distributions install the setuid PAM helper.
	DefaultHelperPath = "/usr/lib/polkit-1/polkit-agent-helper-1"

	defaultHelperTimeout = 25 * time.Second
)

func init() {
	Register("helper", func(opts Options) (Verifier, error) {
		return NewHelper(opts.HelperPath, opts.Timeout), nil
	})
}

// Helper shells out to the polkit PAM helper, which runs the PAM
// conversation for the subject user. The secret is written to the
// helper's stdin and never appears on argv or in the environment.
type Helper struct {
	path    string
	timeout time.Duration
}

func NewHelper(path string, timeout time.Duration) *Helper {
	if strings.TrimSpace(path) == "" {
		path = DefaultHelperPath
	}
	if timeout <= 0 {
		timeout = defaultHelperTimeout
	}
	return &Helper{path: path, timeout: timeout}
}

func (h *Helper) Verify(ctx context.Context, subject, secret string) Result {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.path, subject)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Errorf("helper stdin: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Errorf("helper stdout: %v", err)
	}
	if err := cmd.Start(); err != nil {
		return Errorf("helper start: %v", err)
	}

	// The helper echoes PAM requests one per line; each prompt request is
	// answered with the secret, and the conversation ends with a SUCCESS
	// or FAILURE line.
	verdict := make(chan Result, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "SUCCESS":
				verdict <- Valid()
				return
			case line == "FAILURE":
				verdict <- Invalid()
				return
			case strings.HasPrefix(line, "PAM_PROMPT_ECHO_OFF"),
				strings.HasPrefix(line, "PAM_PROMPT_ECHO_ON"):
				fmt.Fprintln(stdin, secret)
			}
			// PAM_TEXT_INFO and PAM_ERROR_MSG lines carry no question.
		}
		if err := scanner.Err(); err != nil {
			verdict <- Errorf("helper read: %v", err)
			return
		}
		verdict <- Errorf("helper exited without a verdict")
	}()

	var res Result
	select {
	case res = <-verdict:
	case <-ctx.Done():
		res = Errorf("helper: %v", ctx.Err())
	}
	_ = stdin.Close()
	waitErr := cmd.Wait()
	if res.Status == StatusValid && waitErr != nil {
		// Exit status is authoritative over the conversation transcript.
		res = Invalid()
	}
	return res
}
