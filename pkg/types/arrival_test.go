package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFlexString_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "quoted string", data: `"93"`, want: "93"},
		{name: "bare number", data: `93`, want: "93"},
		{name: "route with suffix", data: `"X72"`, want: "X72"},
		{name: "null", data: `null`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexString
			if err := json.Unmarshal([]byte(tt.data), &f); err != nil {
				t.Fatalf("Unmarshal(%s) failed: %v", tt.data, err)
			}
			if f.String() != tt.want {
				t.Errorf("Unmarshal(%s) = %q, want %q", tt.data, f, tt.want)
			}
		})
	}

	var f FlexString
	if err := json.Unmarshal([]byte(`[1]`), &f); err == nil {
		t.Error("expected error for array value, got nil")
	}
}

func TestBatch_Unmarshal(t *testing.T) {
	// One platform's batch exactly as the push channel delivers it,
	// quoting some numbers and not others.
	raw := `{"tab":[
		{"linka":"4","cas":1756600000000,"casDelta":1,"cielZastavka":5,"lastZ":3,"typ":"online"},
		{"linka":9,"cas":1756600120000,"casDelta":0,"cielZastavka":7,"lastZ":2,"typ":"cp"}
	]}`

	var batch Batch
	if err := json.Unmarshal([]byte(raw), &batch); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(batch.Tab) != 2 {
		t.Fatalf("got %d records, want 2", len(batch.Tab))
	}

	first := batch.Tab[0]
	if first.Linka.String() != "4" {
		t.Errorf("Linka = %q, want %q", first.Linka, "4")
	}
	if first.Cas != 1756600000000 {
		t.Errorf("Cas = %d, want 1756600000000", first.Cas)
	}
	if !first.Live() {
		t.Error("record with typ=online should be live")
	}
	if got := first.ScheduledAt(); !got.Equal(time.UnixMilli(1756600000000)) {
		t.Errorf("ScheduledAt = %v", got)
	}

	second := batch.Tab[1]
	if second.Linka.String() != "9" {
		t.Errorf("Linka = %q, want %q", second.Linka, "9")
	}
	if second.Live() {
		t.Error("record with typ=cp should not be live")
	}
}

func TestKey(t *testing.T) {
	if got := Key(94, "1"); got != "94.1" {
		t.Errorf("Key(94, %q) = %q, want %q", "1", got, "94.1")
	}
	if got := Key(312, "A"); got != "312.A" {
		t.Errorf("Key(312, %q) = %q, want %q", "A", got, "312.A")
	}
}

func TestArrivalEstimate_Minutes(t *testing.T) {
	tests := []struct {
		toffset float64
		want    float64
	}{
		{toffset: 120, want: 2.0},
		{toffset: 125, want: 2.0},
		{toffset: 66, want: 1.1},
		{toffset: 0, want: 0},
	}

	for _, tt := range tests {
		e := ArrivalEstimate{TOffset: tt.toffset}
		if got := e.Minutes(); got != tt.want {
			t.Errorf("Minutes() with toffset %v = %v, want %v", tt.toffset, got, tt.want)
		}
	}
}
