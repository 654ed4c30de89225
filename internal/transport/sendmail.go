package transport

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultAgentPath is where a sendmail-compatible binary usually lives.
const DefaultAgentPath = "/usr/sbin/sendmail"

// localAgent pipes the serialized message to a sendmail-compatible
// executable. "-t" makes the agent read recipients from the headers,
// "-i" keeps a lone dot from terminating input early.
type localAgent struct {
	path string
}

func newLocalAgent(path string) *localAgent {
	if strings.TrimSpace(path) == "" {
		path = DefaultAgentPath
	}
	return &localAgent{path: path}
}

func (t *localAgent) Send(ctx context.Context, msg Message) error {
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return &Error{Method: MethodLocalAgent, Err: fmt.Errorf("serialize: %w", err)}
	}

	cmd := exec.CommandContext(ctx, t.path, "-t", "-i")
	cmd.Stdin = &buf
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return &Error{Method: MethodLocalAgent, Err: fmt.Errorf("%s: %w", t.path, err)}
	}
	return nil
}
