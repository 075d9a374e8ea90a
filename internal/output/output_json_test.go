package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hongkongkiwi/android-udp-transmit-sub002/internal/transmit"
)

func TestNewJSONOutput_Stdout(t *testing.T) {
	j, err := NewJSONOutput("")
	if err != nil {
		t.Fatalf("NewJSONOutput() error = %v", err)
	}
	if !j.toStdout {
		t.Error("expected stdout output for empty filename")
	}
	if err := j.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestJSONOutput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")

	j, err := NewJSONOutput(path)
	if err != nil {
		t.Fatalf("NewJSONOutput() error = %v", err)
	}
	j.HandleEvent(transmit.Event{
		Type:    transmit.EventSent,
		Outcome: &transmit.SendOutcome{Success: true, ByteLength: 4},
	})
	j.HandleEvent(transmit.Event{Type: transmit.EventHealth, Health: transmit.HealthFair})
	if err := j.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}

	var first struct {
		Type    string `json:"type"`
		Outcome struct {
			Success    bool `json:"success"`
			ByteLength int  `json:"byte_length"`
		} `json:"outcome"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if first.Type != "sent" || !first.Outcome.Success || first.Outcome.ByteLength != 4 {
		t.Errorf("unexpected first line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"health":"FAIR"`) {
		t.Errorf("health not encoded as text: %s", lines[1])
	}
}

func TestJSONOutput_TypeFilter(t *testing.T) {
	var buf bytes.Buffer
	j := newJSONWriterOutput(&buf)
	j.types = map[transmit.EventType]bool{transmit.EventSent: true}

	j.HandleEvent(transmit.Event{Type: transmit.EventState, Time: time.Now()})
	j.HandleEvent(transmit.Event{Type: transmit.EventSent, Time: time.Now()})
	j.HandleEvent(transmit.Event{Type: transmit.EventHealth, Time: time.Now()})

	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Errorf("expected 1 line, got %d: %q", n, buf.String())
	}
}

func TestNewJSONOutput_BadPath(t *testing.T) {
	if _, err := NewJSONOutput(filepath.Join(t.TempDir(), "missing", "out.json")); err == nil {
		t.Error("expected error for unwritable path")
	}
}
