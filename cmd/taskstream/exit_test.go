package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitErrHandler_NilError(t *testing.T) {
	// Must return without exiting.
	exitErrHandler(nil, nil)
}

func TestReportExit(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
	}{
		{"success no message", cli.Exit("", 0), 0, ""},
		{"server error with message", cli.Exit("model overloaded", 1), 1, "model overloaded\n"},
		{"stream failed silent", cli.Exit("", 2), 2, ""},
		{"invalid input", cli.Exit("--project is required", 3), 3, "--project is required\n"},
		{"interrupted", cli.Exit("", 130), 130, ""},
		{"wrapped exit coder", errors.Join(errors.New("context"), cli.Exit("inner error", 42)), 42, "inner error\n"},
		{"regular error", errors.New("boom"), 1, "Error: boom\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if code := reportExit(&buf, tt.err); code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if buf.String() != tt.wantOut {
				t.Errorf("output = %q, want %q", buf.String(), tt.wantOut)
			}
		})
	}
}

func TestNewApp_Commands(t *testing.T) {
	app := newApp()
	want := []string{"chat", "replay", "history", "version"}
	if len(app.Commands) != len(want) {
		t.Fatalf("got %d commands, want %d", len(app.Commands), len(want))
	}
	for i, name := range want {
		if app.Commands[i].Name != name {
			t.Errorf("command %d = %q, want %q", i, app.Commands[i].Name, name)
		}
	}
}
