package scanning

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed prompt.txt
var defaultPrompt string

// DefaultPrompt returns the built-in extraction instruction.
func DefaultPrompt() string {
	return defaultPrompt
}

// LoadPrompt reads the extraction instruction from path, or returns the
// built-in one when path is empty.
func LoadPrompt(path string) (string, error) {
	if path == "" {
		return defaultPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading prompt file: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return prompt, nil
}
