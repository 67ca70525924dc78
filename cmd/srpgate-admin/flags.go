// ABOUTME: Minimal flag parsing and password prompting for the admin CLI
// ABOUTME: Accepts --name value and --name=value; passwords are read without echo

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// parsedArgs holds flag values and positional arguments.
type parsedArgs struct {
	flags      map[string]string
	positional []string
}

// parseArgs splits args into the known flags and positional arguments.
// Short aliases map onto their long names.
func parseArgs(args []string, known map[string]string) (*parsedArgs, error) {
	out := &parsedArgs{flags: map[string]string{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			out.positional = append(out.positional, arg)
			continue
		}
		name, value, hasValue := strings.Cut(arg, "=")
		long, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown flag: %s", name)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		out.flags[long] = value
	}
	return out, nil
}

func (p *parsedArgs) get(name string) string {
	return p.flags[name]
}

func (p *parsedArgs) intFlag(name string, fallback int) (int, error) {
	raw, ok := p.flags[name]
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("--%s must be a non-negative integer", name)
	}
	return n, nil
}

var limitFlags = map[string]string{"--limit": "limit", "-n": "limit"}

// promptPassword reads one password without echo.
func promptPassword(w io.Writer, label string) (string, error) {
	if _, err := fmt.Fprint(w, label); err != nil {
		return "", err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// promptNewPassword asks twice and requires both entries to match.
func promptNewPassword(w io.Writer) (string, error) {
	first, err := promptPassword(w, "New password: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("password cannot be empty")
	}
	second, err := promptPassword(w, "Repeat password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	return first, nil
}
