package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	custom := Topics{Prefix: "home"}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"State", topics.State("philipsHue", "Light1", "brightness"), "iobridge/state/philipsHue/Light1/brightness"},
		{"Command", topics.Command("mpd", "kitchen", "volume"), "iobridge/command/mpd/kitchen/volume"},
		{"AllCommands", topics.AllCommands(), "iobridge/command/+/+/+"},
		{"IO", topics.IO("knob", "knob1", "position"), "iobridge/io/knob/knob1/position"},
		{"IOComplete", topics.IOComplete("knob"), "iobridge/io/knob/complete"},
		{"Health", topics.Health("bridge-1"), "iobridge/health/bridge-1"},
		{"Status", topics.Status("iobridge"), "iobridge/status/iobridge"},
		{"custom prefix", custom.State("kodi", "lounge", "dim"), "home/state/kodi/lounge/dim"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	topics := Topics{Prefix: "iobridge"}

	tests := []struct {
		topic   string
		adapter string
		device  string
		point   string
		ok      bool
	}{
		{"iobridge/command/mpd/kitchen/volume", "mpd", "kitchen", "volume", true},
		{"iobridge/command/mpd/kitchen", "", "", "", false},
		{"iobridge/command/mpd/kitchen/volume/extra", "", "", "", false},
		{"iobridge/command/mpd//volume", "", "", "", false},
		{"iobridge/state/mpd/kitchen/volume", "", "", "", false},
		{"other/command/mpd/kitchen/volume", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			adapter, device, point, ok := topics.ParseCommand(tt.topic)
			if ok != tt.ok || adapter != tt.adapter || device != tt.device || point != tt.point {
				t.Errorf("ParseCommand() = (%q, %q, %q, %v), want (%q, %q, %q, %v)",
					adapter, device, point, ok, tt.adapter, tt.device, tt.point, tt.ok)
			}
		})
	}
}

func TestValidSegment(t *testing.T) {
	for s, want := range map[string]bool{
		"Light1": true,
		"":       false,
		"a/b":    false,
		"a+":     false,
		"#":      false,
	} {
		if got := ValidSegment(s); got != want {
			t.Errorf("ValidSegment(%q) = %v, want %v", s, got, want)
		}
	}
}
