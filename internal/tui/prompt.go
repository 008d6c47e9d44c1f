package tui

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// NoPromptEnv disables every interactive prompt when set to any value.
const NoPromptEnv = "STAGEHAND_NO_PROMPT"

// ciEnv are variables set by CI systems.
var ciEnv = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS", "CIRCLECI", "BUILDKITE"}

// Choice is one option of a selection prompt. Label is shown, Value is
// returned.
type Choice struct {
	Label string
	Value string
}

// PromptForConfirmation asks a yes/no question. description may be empty.
func PromptForConfirmation(title, description string, defaultValue bool) (bool, error) {
	confirmed := defaultValue
	field := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&confirmed)
	if description != "" {
		field = field.Description(description)
	}

	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return confirmed, nil
}

// PromptForSelect asks for one of choices and returns its Value.
func PromptForSelect(title string, choices []Choice) (string, error) {
	if len(choices) == 0 {
		return "", errors.New("nothing to choose from")
	}

	options := make([]huh.Option[string], 0, len(choices))
	for _, c := range choices {
		options = append(options, huh.NewOption(c.Label, c.Value))
	}

	var selected string
	field := huh.NewSelect[string]().
		Title(title).
		Options(options...).
		Value(&selected)
	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return "", fmt.Errorf("selection prompt: %w", err)
	}
	return selected, nil
}

// IsTerminal reports whether w writes to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return IsTerminal(os.Stdin)
}

// ShouldPrompt reports whether the user can be asked anything: stdin is a
// terminal, prompts are not disabled and no CI system is detected.
func ShouldPrompt() bool {
	if os.Getenv(NoPromptEnv) != "" {
		return false
	}
	for _, name := range ciEnv {
		if os.Getenv(name) != "" {
			return false
		}
	}
	return IsInteractive()
}
