package display

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the operator for input
type Prompter struct {
	in  *bufio.Reader
	fd  int
	tty bool
	out io.Writer
	cs  ColorSystem
}

// NewPrompter reads from in. When in is a terminal, secrets are read without echo.
func NewPrompter(in *os.File, out io.Writer, cs ColorSystem) *Prompter {
	fd := int(in.Fd())
	return &Prompter{in: bufio.NewReader(in), fd: fd, tty: term.IsTerminal(fd), out: out, cs: cs}
}

// NewReaderPrompter reads from an arbitrary reader, echoing secrets
func NewReaderPrompter(in io.Reader, out io.Writer, cs ColorSystem) *Prompter {
	return &Prompter{in: bufio.NewReader(in), fd: -1, out: out, cs: cs}
}

// Interactive reports whether input comes from a terminal
func (p *Prompter) Interactive() bool {
	return p.tty
}

// Line prints label and returns the trimmed answer
func (p *Prompter) Line(label string) (string, error) {
	fmt.Fprint(p.out, p.label(label))
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Secret reads a value without echo on a terminal. The trailing newline is removed but
// other whitespace is preserved.
func (p *Prompter) Secret(label string) (string, error) {
	if !p.tty {
		line, err := p.in.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(p.out, p.label(label))
	secret, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

// Confirm asks a yes/no question; anything but y/yes is no
func (p *Prompter) Confirm(question string) (bool, error) {
	answer, err := p.Line(question + " [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *Prompter) label(s string) string {
	if p.cs == nil {
		return s
	}
	return p.cs.Colorize(s, p.cs.Theme().Primary)
}
