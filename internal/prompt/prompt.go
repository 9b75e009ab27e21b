// Package prompt reads interactive input: plain lines and secrets typed
// without echo.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/servicetracker/internal/common"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// Line prints prompt to w and reads one trimmed line from reader. A final
// line without a newline is accepted.
func Line(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt+"\n> "); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Secret prints label to w and reads a value from the terminal without
// echo. The caller should wipe the returned slice once done.
func Secret(label string, w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, label+": "); err != nil {
		return nil, err
	}
	b, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// PIN reads a numeric PIN twice and checks both entries match.
func PIN(w io.Writer) (string, error) {
	first, err := Secret("Enter PIN", w)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(first)
	second, err := Secret("Repeat PIN", w)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(second)

	if string(first) != string(second) {
		return "", errors.New("PINs do not match")
	}
	pin := strings.TrimSpace(string(first))
	if pin == "" {
		return "", errors.New("empty PIN")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return "", errors.New("PIN must be numeric")
		}
	}
	return pin, nil
}
