package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/taskstream/transcript"
	"github.com/pithecene-io/taskstream/types"
)

// ReplayCommand returns the replay command.
// It reads a transcript written by chat --record.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Render a recorded stream transcript",
		ArgsUsage: "FILE",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Render the header and outcome instead of the events",
			},
		}, OutputFlags()...),
		Action: replayAction,
	}
}

// ReplayEvent is one row of replay output.
type ReplayEvent struct {
	Type              string    `json:"type"`
	Seq               int64     `json:"seq,omitempty"`
	Step              string    `json:"step,omitempty"`
	Message           string    `json:"message,omitempty"`
	IntentType        *string   `json:"intent_type,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
	SinceStartMs      int64     `json:"since_start_ms"`
	SinceLastProgress int64     `json:"since_last_progress_ms,omitempty"`
}

// ReplaySummary is the --summary output.
type ReplaySummary struct {
	StreamID      string               `json:"stream_id"`
	ProjectID     string               `json:"project_id"`
	Endpoint      string               `json:"endpoint"`
	Message       string               `json:"message"`
	ClientVersion string               `json:"client_version"`
	StartedAt     time.Time            `json:"started_at"`
	Events        int                  `json:"events"`
	Complete      bool                 `json:"complete"`
	Outcome       *types.StreamOutcome `json:"outcome,omitempty"`
}

func replayAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("replay requires exactly one transcript file", exitInvalidInput)
	}
	path := c.Args().First()

	r, err := newRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	f, err := os.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open transcript: %v", err), exitInvalidInput)
	}
	defer f.Close()

	t, readErr := transcript.ReadAll(f)
	if t == nil {
		return cli.Exit(fmt.Sprintf("invalid transcript %s: %v", path, readErr), exitInvalidInput)
	}

	var data any
	if c.Bool("summary") {
		data = summarize(t)
	} else {
		data = replayEvents(t.Envelopes)
	}
	if err := r.Render(data); err != nil {
		return fmt.Errorf("render transcript: %w", err)
	}

	// A cut-off recording still renders what was read.
	if readErr != nil {
		return cli.Exit(fmt.Sprintf("transcript %s is incomplete: %v", path, readErr), exitStreamFailed)
	}
	return nil
}

func summarize(t *transcript.Transcript) ReplaySummary {
	return ReplaySummary{
		StreamID:      t.Header.StreamID,
		ProjectID:     t.Header.ProjectID,
		Endpoint:      t.Header.Endpoint,
		Message:       t.Header.Message,
		ClientVersion: t.Header.Version,
		StartedAt:     t.Header.StartedAt,
		Events:        len(t.Envelopes),
		Complete:      t.Outcome != nil,
		Outcome:       t.Outcome,
	}
}

func replayEvents(envs []types.EventEnvelope) []ReplayEvent {
	rows := make([]ReplayEvent, 0, len(envs))
	for _, env := range envs {
		row := ReplayEvent{
			Type:         string(env.Event.Type),
			Seq:          env.Seq,
			ReceivedAt:   env.ReceivedAt,
			SinceStartMs: env.SinceStart.Milliseconds(),
		}
		switch ev := env.Event; ev.Type {
		case types.EventTypeProgress:
			row.Step = ev.Progress.Step
			row.Message = ev.Progress.Message
			row.SinceLastProgress = env.SinceLastProgress.Milliseconds()
		case types.EventTypeComplete:
			row.Message = ev.Complete.Response
			row.IntentType = ev.Complete.IntentType
		case types.EventTypeError:
			row.Message = ev.Error.Message
		}
		rows = append(rows, row)
	}
	return rows
}
