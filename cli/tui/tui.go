package tui

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/taskstream/stream"
	"github.com/pithecene-io/taskstream/types"
)

// Handlers returns stream handlers that forward events to send.
// next, when set, is invoked first so recording and archiving keep working.
func Handlers(send func(tea.Msg), next stream.Handlers) stream.Handlers {
	return stream.Handlers{
		OnEvent: next.OnEvent,
		OnProgress: func(env types.EventEnvelope) {
			if next.OnProgress != nil {
				next.OnProgress(env)
			}
			send(ProgressMsg{Envelope: env})
		},
		OnComplete: func(response string, intentType *string) {
			if next.OnComplete != nil {
				next.OnComplete(response, intentType)
			}
			send(CompleteMsg{Response: response, IntentType: intentType})
		},
		OnError: func(message string) {
			if next.OnError != nil {
				next.OnError(message)
			}
			send(ErrorMsg{Message: message})
		},
	}
}

// RunProgress shows m on out while run streams in the background.
// run receives next wrapped with the view updates and must return once
// the stream is over. RunProgress waits for run even when the user
// quits early; the model's cancel func is what ends the stream then.
func RunProgress(m ProgressModel, out io.Writer, next stream.Handlers, run func(stream.Handlers) *types.StreamOutcome) error {
	p := tea.NewProgram(m, tea.WithOutput(out))

	done := make(chan struct{})
	go func() {
		defer close(done)
		outcome := run(Handlers(p.Send, next))
		p.Send(DoneMsg{Outcome: outcome})
	}()

	_, err := p.Run()
	<-done
	if err != nil {
		return fmt.Errorf("progress view: %w", err)
	}
	return nil
}
