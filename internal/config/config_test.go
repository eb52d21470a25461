package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseTuple(t *testing.T) {
	c, err := ParseTuple("28901-UP8TR7iWp-22180-21180")
	if err != nil {
		t.Fatalf("ParseTuple: %v", err)
	}
	if c.ControlPort != 28901 || c.Secret != "UP8TR7iWp" || c.ListenPort != 22180 || c.Dest != "127.0.0.1:21180" {
		t.Errorf("unexpected config %+v", c)
	}
	if c.ControlAddr() != "0.0.0.0:28901" || c.ListenAddr() != "0.0.0.0:22180" {
		t.Errorf("unexpected bind addresses %s %s", c.ControlAddr(), c.ListenAddr())
	}
}

func TestParseTupleHostDestination(t *testing.T) {
	c, err := ParseTuple("8080-s3cret-2222-bastion-01.internal:22")
	if err != nil {
		t.Fatalf("ParseTuple: %v", err)
	}
	if c.Dest != "bastion-01.internal:22" {
		t.Errorf("expected host destination to keep its '-', got %q", c.Dest)
	}
	c, err = ParseTuple("8080-s3cret-2222-[2001:db8::5]:22")
	if err != nil {
		t.Fatalf("ParseTuple ipv6: %v", err)
	}
	if c.Dest != "[2001:db8::5]:22" {
		t.Errorf("unexpected ipv6 destination %q", c.Dest)
	}
}

func TestParseArgsPositional(t *testing.T) {
	c, err := ParseArgs([]string{"9000", "key", "9001", "3306"})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if c.ControlPort != 9000 || c.Secret != "key" || c.ListenPort != 9001 || c.Dest != "127.0.0.1:3306" {
		t.Errorf("unexpected config %+v", c)
	}
}

func TestParseArgsErrorsAreUsage(t *testing.T) {
	bad := [][]string{
		nil,
		{"a", "b"},
		{"9000-key-9001"},
		{"x-key-9001-9002"},
		{"9000-key-70000-9002"},
		{"9000--9001-9002"},
		{"9000-list-9001-9002"},
		{"9000-a/b-9001-9002"},
		{"9000-key-9001-nohost"},
		{"9000-key-9001-host:port"},
		{"9000", "key", "9001", "0"},
	}
	for _, args := range bad {
		_, err := ParseArgs(args)
		if err == nil {
			t.Errorf("ParseArgs(%q): expected error", args)
			continue
		}
		if !errors.Is(err, ErrUsage) {
			t.Errorf("ParseArgs(%q): expected ErrUsage, got %v", args, err)
		}
	}
}

func TestLoadFileAndMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portgate.yaml")
	data := []byte(`
idle_timeout: 300s
metrics_addr: ":9100"
redis:
  addr: "127.0.0.1:6379"
limits:
  conn_rate: 5
dest: "9999"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	fc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if fc.IdleTimeout != ReferenceIdleTimeout || fc.Dest != "127.0.0.1:9999" {
		t.Errorf("unexpected file config %+v", fc)
	}

	cli, err := ParseTuple("28901-abc-22180-21180")
	if err != nil {
		t.Fatal(err)
	}
	c := &Config{}
	c.Merge(fc)
	c.Merge(cli)
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Dest != "127.0.0.1:21180" {
		t.Errorf("command line should override file destination, got %q", c.Dest)
	}
	if c.MetricsAddr != ":9100" || c.Redis.Addr != "127.0.0.1:6379" || c.Limits.ConnRate != 5 {
		t.Errorf("file settings lost in merge: %+v", c)
	}
	if c.DialTimeout != DefaultDialTimeout || c.Redis.Key != DefaultRedisKey || c.Limits.Burst != 5 {
		t.Errorf("defaults not applied: %+v", c)
	}
	if c.IdleTimeout != 300*time.Second {
		t.Errorf("idle timeout = %s", c.IdleTimeout)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateRequiresRelayFields(t *testing.T) {
	c := &Config{MetricsAddr: ":9100"}
	c.SetDefaults()
	if err := c.Validate(); !errors.Is(err, ErrUsage) {
		t.Errorf("expected ErrUsage for empty config, got %v", err)
	}
}
