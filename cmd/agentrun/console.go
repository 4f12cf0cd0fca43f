package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/agentrun/internal/agent"
)

const maxEchoLen = 240

// consoleObserver prints run progress as it happens.
type consoleObserver struct {
	out io.Writer
}

func newConsoleObserver(out io.Writer) *consoleObserver {
	return &consoleObserver{out: out}
}

func (c *consoleObserver) OnStatus(_ context.Context, text string) error {
	_, err := fmt.Fprintf(c.out, "· %s\n", text)
	return err
}

func (c *consoleObserver) OnToolStart(_ context.Context, callID, name string) error {
	_, err := fmt.Fprintf(c.out, "→ %s (%s)\n", name, callID)
	return err
}

func (c *consoleObserver) OnToolResult(_ context.Context, callID, output string) error {
	_, err := fmt.Fprintf(c.out, "← %s %s\n", callID, truncate(output, maxEchoLen))
	return err
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// prompter asks the user to decide pending interruptions.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// readLine returns the next input line without its newline. io.EOF is
// returned only when nothing was read.
func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// decide asks once per pending call. Empty or unrecognized answers are
// asked again; end of input rejects the remaining calls.
func (p *prompter) decide(pending []*agent.Interruption) []agent.Decision {
	decisions := make([]agent.Decision, 0, len(pending))
	for _, in := range pending {
		approved := false
	ask:
		for {
			fmt.Fprintf(p.out, "? %s wants to run with %s. Approve? [y/n] ", in.ToolName, string(in.Arguments))
			answer, err := p.readLine()
			if err != nil {
				fmt.Fprintln(p.out)
				break ask
			}
			switch strings.ToLower(answer) {
			case "y", "yes":
				approved = true
				break ask
			case "n", "no":
				break ask
			}
		}
		decisions = append(decisions, agent.Decision{CallID: in.CallID, Approved: approved, DecidedBy: "console"})
	}
	return decisions
}
