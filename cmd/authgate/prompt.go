package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// prompter reads answers from stdin. Secrets are read without echo when
// stdin is a terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(os.Stdin), out: out}
}

func (p *prompter) line(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	s, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (p *prompter) secret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		s, err := p.line(label)
		return s, err
	}
	fmt.Fprintf(p.out, "%s: ", label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// valueOr prompts for a value only when flag is empty
func (p *prompter) valueOr(flag, label string, secret bool) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if secret {
		return p.secret(label)
	}
	return p.line(label)
}
