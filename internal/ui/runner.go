package ui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// RunCall shows the call screen until the user leaves, the session's event
// stream ends or ctx is cancelled. The summary is valid in every case.
func RunCall(ctx context.Context, ctrl Controller, opts ...tea.ProgramOption) (CallSummary, error) {
	model := NewCallModel(ctx, ctrl)

	// inline mode without the alt screen keeps the room box visible above
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(model, opts...).Run()
	if err != nil && errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		err = nil
	}

	if m, ok := final.(*CallModel); ok {
		return m.Summary(), err
	}
	return model.Summary(), err
}
