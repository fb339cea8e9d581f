package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevelAliases(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) got=%v ok=%v want=%v", raw, got, ok, want)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
}

func TestMergeConfigKeepsDefaultsForEmptyOptions(t *testing.T) {
	base := defaultConfig(ProfileRuntime)
	got := mergeConfig(base, Options{})
	if got.Level != zerolog.InfoLevel || got.Format != "console" || !got.Timestamp {
		t.Fatalf("unexpected merged config: %+v", got)
	}

	got = mergeConfig(base, Options{Level: "debug", Format: "JSON", File: FileConfig{Path: "/tmp/adsbridge.log"}})
	if got.Level != zerolog.DebugLevel || got.Format != "json" || got.File.Path != "/tmp/adsbridge.log" {
		t.Fatalf("unexpected merged config: %+v", got)
	}
}
