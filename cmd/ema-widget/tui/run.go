package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the panel until the user quits or ctx is done.
func Run(ctx context.Context, chat Chat, updates *Updates, classMode, mode string, opts ...Option) error {
	program := tea.NewProgram(
		NewModel(ctx, chat, updates, classMode, mode, opts...),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := program.Run()
	return err
}
