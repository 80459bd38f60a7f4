package hmackey

import (
	"bytes"
	"encoding/base64"
	"flag"
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("hmackey", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 32 || cfg.Env != EnvTokenPepper {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestParseConfigOverride(t *testing.T) {
	fs := flag.NewFlagSet("hmackey", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-bytes", "48", "-env", EnvAccessTokenSecret})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 48 || cfg.Env != EnvAccessTokenSecret {
		t.Fatalf("overrides = %+v", cfg)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	if err := Run(Config{Bytes: 8}, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error for short key")
	}
	if err := Run(Config{Bytes: 32, Env: "OTHER"}, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error for unknown env")
	}
	if err := Run(Config{Bytes: 32}, nil, nil); err == nil {
		t.Fatal("expected error for nil output")
	}
}

func TestRunWritesBase64(t *testing.T) {
	key := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 4)
	buf := &bytes.Buffer{}
	if err := Run(Config{Bytes: 16}, buf, bytes.NewReader(key)); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := EnvTokenPepper + "=" + base64.StdEncoding.EncodeToString(key)
	if got := strings.TrimSpace(buf.String()); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestRunShortReaderFails(t *testing.T) {
	if err := Run(Config{Bytes: 16}, &bytes.Buffer{}, bytes.NewReader([]byte{1, 2})); err == nil {
		t.Fatal("expected read error")
	}
}

func TestRunDefaultReader(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Run(Config{Bytes: 32, Env: EnvAccessTokenSecret}, buf, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	value, ok := strings.CutPrefix(strings.TrimSpace(buf.String()), EnvAccessTokenSecret+"=")
	if !ok {
		t.Fatalf("unexpected output %q", buf.String())
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(decoded) != 32 {
		t.Fatalf("decoded %d bytes, err %v", len(decoded), err)
	}
}
