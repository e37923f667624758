package watch

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"imhd2txt/pkg/types"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		expectErr bool
		errMsg    string
	}{
		{
			name: "valid config",
			config: Config{
				StopID:   94,
				Platform: "1",
				Routes:   []string{"4", "9"},
				Interval: 120 * time.Second,
			},
		},
		{
			name: "missing stop id",
			config: Config{
				Platform: "1",
				Routes:   []string{"4"},
			},
			expectErr: true,
			errMsg:    "a stop id is required",
		},
		{
			name: "missing platform",
			config: Config{
				StopID: 94,
				Routes: []string{"4"},
			},
			expectErr: true,
			errMsg:    "a platform is required",
		},
		{
			name: "missing routes",
			config: Config{
				StopID:   94,
				Platform: "1",
			},
			expectErr: true,
			errMsg:    "at least one route number is required",
		},
		{
			name: "nil routes",
			config: Config{
				StopID:   94,
				Platform: "1",
				Routes:   nil,
			},
			expectErr: true,
			errMsg:    "at least one route number is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			watcher, err := New(tt.config)

			if tt.expectErr {
				if err == nil {
					t.Errorf("Expected error containing %q, got nil", tt.errMsg)
				} else if tt.errMsg != "" && err.Error() != tt.errMsg {
					t.Errorf("Expected error %q, got %q", tt.errMsg, err.Error())
				}
				if watcher != nil {
					t.Error("Expected nil watcher on error")
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				if watcher == nil {
					t.Error("Expected non-nil watcher")
				}
			}
		})
	}
}

func TestNew_IntervalDefault(t *testing.T) {
	watcher, err := New(Config{
		StopID:   94,
		Platform: "1",
		Routes:   []string{"4"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if watcher.config.Interval != 120*time.Second {
		t.Errorf("Interval = %v, want 120s default", watcher.config.Interval)
	}
}

func TestPrintSnapshot(t *testing.T) {
	var buf bytes.Buffer
	w := &Watcher{out: &buf}

	snap := types.Snapshot{
		StopID:   94,
		Platform: "1",
		Taken:    time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC),
		Arrivals: []types.ArrivalEstimate{
			{
				Arrival:     types.Arrival{Linka: "4", CasDelta: 2, CielZastavka: 5},
				TOffset:     120,
				Destination: "Hlavná stanica",
			},
			{
				Arrival: types.Arrival{Linka: "9", CielZastavka: 7},
				TOffset: 300,
			},
		},
	}
	w.printSnapshot(snap)

	out := buf.String()
	if !strings.Contains(out, "2026-08-31 14:30:00  stop 94  platform 1") {
		t.Errorf("missing header line in output:\n%s", out)
	}
	if !strings.Contains(out, "4 to Hlavná stanica in 2.0 min (delay: 2)") {
		t.Errorf("missing resolved arrival line in output:\n%s", out)
	}
	// Without a resolved name, the destination id is shown as-is.
	if !strings.Contains(out, "9 to 7 in 5.0 min (delay: 0)") {
		t.Errorf("missing unresolved arrival line in output:\n%s", out)
	}
}

func TestPrintSnapshot_Empty(t *testing.T) {
	var buf bytes.Buffer
	w := &Watcher{out: &buf}

	w.printSnapshot(types.Snapshot{StopID: 94, Platform: "1", Taken: time.Now()})

	if !strings.Contains(buf.String(), "no matching departures") {
		t.Errorf("missing empty marker in output:\n%s", buf.String())
	}
}
