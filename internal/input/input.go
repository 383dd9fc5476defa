package input

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// MaxInputBytes caps how much of stdin is read into a prompt.
const MaxInputBytes = 8 << 20

// IsInteractive reports whether a person is at the terminal. forceNonInteractive
// comes from PIPELM_NONINTERACTIVE and always wins.
func IsInteractive(forceNonInteractive bool) bool {
	if forceNonInteractive {
		return false
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// StdinIsPiped reports whether stdin carries data rather than a terminal.
func StdinIsPiped() bool {
	return !term.IsTerminal(int(os.Stdin.Fd()))
}

func Read(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, MaxInputBytes+1))
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	if len(b) > MaxInputBytes {
		return "", fmt.Errorf("input larger than %d bytes", MaxInputBytes)
	}
	return string(b), nil
}
