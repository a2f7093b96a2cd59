package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
)

// errAborted is returned when the user interrupts a prompt
var errAborted = errors.New("registration aborted")

// prompter asks the user for registration details
type prompter interface {
	// Ask reads one line; def is returned for an empty answer
	Ask(label, def string) (string, error)
	// Secret reads one line without echoing it
	Secret(label string) (string, error)
	Close() error
}

// newPrompter uses readline when stdin is a terminal and plain line reads
// otherwise (pipes, tests)
func newPrompter(in io.Reader, out io.Writer) (prompter, error) {
	if f, ok := in.(*os.File); ok && readline.IsTerminal(int(f.Fd())) {
		rl, err := readline.NewEx(&readline.Config{
			Stdin:           f,
			Stdout:          out,
			InterruptPrompt: "^C",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create readline instance: %w", err)
		}
		return &readlinePrompter{rl: rl}, nil
	}
	return &linePrompter{in: bufio.NewReader(in), out: out}, nil
}

func promptText(label, def string) string {
	if def != "" {
		return fmt.Sprintf("%s [%s]: ", label, def)
	}
	return label + ": "
}

type readlinePrompter struct {
	rl *readline.Instance
}

func (p *readlinePrompter) Ask(label, def string) (string, error) {
	p.rl.SetPrompt(promptText(label, def))
	line, err := p.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return "", errAborted
	}
	if err != nil {
		return "", fmt.Errorf("readline error: %w", err)
	}
	if answer := strings.TrimSpace(line); answer != "" {
		return answer, nil
	}
	return def, nil
}

func (p *readlinePrompter) Secret(label string) (string, error) {
	secret, err := p.rl.ReadPassword(promptText(label, ""))
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return "", errAborted
	}
	if err != nil {
		return "", fmt.Errorf("readline error: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

func (p *readlinePrompter) Close() error {
	return p.rl.Close()
}

type linePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *linePrompter) Ask(label, def string) (string, error) {
	fmt.Fprint(p.out, promptText(label, def))
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", errAborted
		}
		return "", err
	}
	if answer := strings.TrimSpace(line); answer != "" {
		return answer, nil
	}
	return def, nil
}

func (p *linePrompter) Secret(label string) (string, error) {
	return p.Ask(label, "")
}

func (p *linePrompter) Close() error {
	return nil
}
