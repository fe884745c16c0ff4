package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"golang.org/x/term"
)

// errEndOfInput is returned by readLine when stdin is exhausted.
var errEndOfInput = errors.New("unexpected end of input")

var (
	// stdin is shared so piped input is not lost between prompts.
	stdin = bufio.NewReader(os.Stdin)

	isTerminal = term.IsTerminal
)

// readPassword prompts on stderr and reads a line without echo. Piped
// input is read as a plain line.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if isTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	return readLine()
}

// readNewPassword prompts twice and returns both entries.
func readNewPassword(prompt string) (secret, confirm string, err error) {
	secret, err = readPassword(prompt)
	if err != nil {
		return "", "", err
	}
	confirm, err = readPassword("Confirm password: ")
	if err != nil {
		return "", "", err
	}
	return secret, confirm, nil
}

// readLine reads one line from stdin without the trailing newline.
func readLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r"), nil
		}
		if errors.Is(err, io.EOF) {
			return "", errEndOfInput
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// prompt prints label and reads a line of visible input.
func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	return readLine()
}

// confirm asks a yes/no question. Anything but y or yes is no.
func confirm(question string) bool {
	answer, err := prompt(question + " [y/N]: ")
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// copyToClipboard copies text to the system clipboard.
func copyToClipboard(text string) error {
	if clipboard.Unsupported {
		return errors.New("clipboard is not supported on this system")
	}
	return clipboard.WriteAll(text)
}

// reportCopy writes the clipboard outcome to stderr.
func reportCopy(text, what string) {
	if err := copyToClipboard(text); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to copy to clipboard: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s copied to clipboard (readable by other applications)\n", what)
}
