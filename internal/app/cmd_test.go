package app

import (
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"empty defaults to serve", []string{}, CommandServe},
		{"nil defaults to serve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"migrate with action", []string{"migrate", "down", "2"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"unknown defaults to serve", []string{"unknown"}, CommandServe},
		{"extra args ignored", []string{"worker", "--flag", "value"}, CommandWorker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseMigrateArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		action    migrateAction
		steps     int
		wantError bool
	}{
		{"no args applies all", nil, migrateUp, 0, false},
		{"explicit up", []string{"up"}, migrateUp, 0, false},
		{"down defaults to one step", []string{"down"}, migrateDown, 1, false},
		{"down with steps", []string{"down", "3"}, migrateDown, 3, false},
		{"version", []string{"version"}, migrateVersion, 0, false},
		{"down zero", []string{"down", "0"}, 0, 0, true},
		{"down non-numeric", []string{"down", "all"}, 0, 0, true},
		{"unknown action", []string{"force"}, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, steps, err := parseMigrateArgs(tt.args)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if action != tt.action || steps != tt.steps {
				t.Errorf("parseMigrateArgs(%v) = (%d, %d), want (%d, %d)", tt.args, action, steps, tt.action, tt.steps)
			}
		})
	}
}
