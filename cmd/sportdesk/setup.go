package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/raine/sportdesk/internal/config"
	"golang.org/x/term"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginBottom(1)
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// isInteractiveTerminal returns true if both stdin and stdout are TTYs.
func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// needsSetup reports whether the required configuration is missing.
func needsSetup() bool {
	return os.Getenv("API_BASE_URL") == ""
}

// runSetupWizard asks for the backend URL, generates a storage key and
// writes both to the config file. Returns true if the CLI should continue.
func runSetupWizard() bool {
	fmt.Println()
	fmt.Println(titleStyle.Render("sportdesk - first-time setup"))

	var baseURL string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Description("Root URL of the sportdesk backend, e.g. https://api.example.com").
				Value(&baseURL).
				Validate(validateBaseURL),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	values := map[string]string{
		"API_BASE_URL": strings.TrimRight(baseURL, "/"),
		"STORAGE_KEY":  generateStorageKey(),
	}

	configPath, err := writeEnvFile(values)
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		return false
	}

	for k, v := range values {
		os.Setenv(k, v)
	}

	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(mutedStyle.Render("  " + configPath))
	fmt.Println()
	return true
}

func validateBaseURL(s string) error {
	if s == "" {
		return errors.New("URL is required")
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

func generateStorageKey() string {
	b := make([]byte, 32)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

// writeEnvFile writes values to the config file, creating the config
// directory if needed.
func writeEnvFile(values map[string]string) (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	configPath := filepath.Join(dir, config.EnvFileName)

	f, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	order := []string{"API_BASE_URL", "STORAGE_KEY"}
	for _, key := range order {
		if val, ok := values[key]; ok {
			if _, err := fmt.Fprintf(f, "%s=%q\n", key, val); err != nil {
				return "", fmt.Errorf("failed to write %s: %w", key, err)
			}
		}
	}

	return configPath, nil
}
