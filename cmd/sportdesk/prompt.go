package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/raine/sportdesk/internal/session"
)

var errAborted = errors.New("aborted")

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

// promptCredentials asks for email and password. On a terminal a form is
// shown; otherwise two lines are read from stdin.
func promptCredentials(withName bool) (name string, creds session.Credentials, err error) {
	if !isInteractiveTerminal() {
		return readCredentials(os.Stdin, withName)
	}

	var fields []huh.Field
	if withName {
		fields = append(fields, huh.NewInput().Title("Name").Value(&name).Validate(required("name")))
	}
	fields = append(fields,
		huh.NewInput().Title("Email").Value(&creds.Email).Validate(required("email")),
		huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&creds.Password).Validate(required("password")),
	)

	if err := huh.NewForm(huh.NewGroup(fields...)).WithTheme(huh.ThemeBase16()).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", creds, errAborted
		}
		return "", creds, err
	}
	return strings.TrimSpace(name), creds, nil
}

// readCredentials reads name (optional), email and password, one per line.
func readCredentials(r io.Reader, withName bool) (name string, creds session.Credentials, err error) {
	reader := bufio.NewReader(r)
	readLine := func(field string) (string, error) {
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			if err != nil && err != io.EOF {
				return "", err
			}
			return "", fmt.Errorf("%s is required", field)
		}
		return line, nil
	}

	if withName {
		if name, err = readLine("name"); err != nil {
			return "", creds, err
		}
	}
	if creds.Email, err = readLine("email"); err != nil {
		return "", creds, err
	}
	if creds.Password, err = readLine("password"); err != nil {
		return "", creds, err
	}
	return name, creds, nil
}
