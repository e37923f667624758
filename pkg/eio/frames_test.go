package eio

import "testing"

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{
			name:  "plain frame",
			frame: `42["req",[94,[1]]]`,
			want:  `18:42["req",[94,[1]]]`,
		},
		{
			name:  "surrounding whitespace is stripped before measuring",
			frame: "  2 \n",
			want:  "1:2",
		},
		{
			name:  "empty frame",
			frame: "",
			want:  "0:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodePayload(tt.frame); got != tt.want {
				t.Errorf("EncodePayload(%q) = %q, want %q", tt.frame, got, tt.want)
			}
		})
	}
}

func TestSubscribeFrame(t *testing.T) {
	tests := []struct {
		name      string
		stopID    int
		platforms []string
		want      string
	}{
		{
			name:      "numeric platforms are sent as numbers",
			stopID:    94,
			platforms: []string{"1", "2"},
			want:      `42["req",[94,[1,2]]]`,
		},
		{
			name:      "single platform",
			stopID:    94,
			platforms: []string{"1"},
			want:      `42["req",[94,[1]]]`,
		},
		{
			name:      "non-numeric platforms stay strings",
			stopID:    312,
			platforms: []string{"1", "A"},
			want:      `42["req",[312,[1,"A"]]]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SubscribeFrame(tt.stopID, tt.platforms); got != tt.want {
				t.Errorf("SubscribeFrame(%d, %v) = %q, want %q", tt.stopID, tt.platforms, got, tt.want)
			}
		})
	}
}

func TestMessagePayload(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		want   string
		wantOK bool
	}{
		{
			name:   "data frame",
			frame:  `42["msg",{"94.1":{"tab":[]}}]`,
			want:   `["msg",{"94.1":{"tab":[]}}]`,
			wantOK: true,
		},
		{
			name:   "ping is not a data frame",
			frame:  "2",
			wantOK: false,
		},
		{
			name:   "probe ack is not a data frame",
			frame:  "3probe",
			wantOK: false,
		},
		{
			name:   "bare header has no payload",
			frame:  "42",
			wantOK: false,
		},
		{
			name:   "empty frame",
			frame:  "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MessagePayload(tt.frame)
			if ok != tt.wantOK {
				t.Fatalf("MessagePayload(%q) ok = %v, want %v", tt.frame, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("MessagePayload(%q) = %q, want %q", tt.frame, got, tt.want)
			}
		})
	}
}
