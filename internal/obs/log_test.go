package obs

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestLogLineIsJSON(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	f := Fields{"ip": "10.0.0.1"}
	Info("control.authorize", f)
	var got map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if got["msg"] != "control.authorize" || got["level"] != "info" || got["ip"] != "10.0.0.1" {
		t.Errorf("unexpected log line %v", got)
	}
	if _, ok := f["ts"]; ok {
		t.Error("caller fields were mutated")
	}
}

func TestDebugGated(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	EnableDebug(false)
	Debug("relay.session", nil)
	if buf.Len() != 0 {
		t.Fatalf("debug line written while disabled: %q", buf.String())
	}
	EnableDebug(true)
	defer EnableDebug(false)
	Debug("relay.session", nil)
	if !strings.Contains(buf.String(), `"level":"debug"`) {
		t.Errorf("expected debug line, got %q", buf.String())
	}
}
