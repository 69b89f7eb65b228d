package config

import "testing"

func TestParseCSV(t *testing.T) {
	got := parseCSV("a, b, ,c,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestParseAnyCSV(t *testing.T) {
	raw := []any{"x", " ", "y"}
	got := parseAnyCSV(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0] != "x" || got[1] != "y" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestAsBool(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "no": false, "N": false}
	for raw, want := range cases {
		got, ok := asBool(raw)
		if !ok || got != want {
			t.Fatalf("asBool(%q) = %v, %v", raw, got, ok)
		}
	}
	if _, ok := asBool("maybe"); ok {
		t.Fatalf("expected asBool to reject %q", "maybe")
	}
}

func TestApplyConfigMapTopics(t *testing.T) {
	cfg := Config{}
	problems := []Problem{}
	applyConfigMap(&cfg, map[string]any{
		"TASK_EVENTS_TOPIC":   "board.events",
		"DEAD_LETTER_TOPIC":   "board.events.dead",
		"FANOUT_MAX_ATTEMPTS": "7",
	}, &problems)
	if cfg.TaskEventsTopic != "board.events" || cfg.DeadLetterTopic != "board.events.dead" {
		t.Fatalf("topics not applied: %#v", cfg)
	}
	if cfg.FanoutMaxAttempts != 7 {
		t.Fatalf("expected 7 attempts, got %d", cfg.FanoutMaxAttempts)
	}
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %#v", problems)
	}
}
