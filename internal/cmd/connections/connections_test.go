package connections

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("connections", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPPort != 8095 || cfg.GRPCPort != 8096 {
		t.Fatalf("ports = %d/%d, want 8095/8096", cfg.HTTPPort, cfg.GRPCPort)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "data/connections.db" {
		t.Fatalf("db = %+v", cfg.DB)
	}
	if cfg.CodeTTL != 15*time.Minute || cfg.EmailTTL != 7*24*time.Hour || cfg.LinkTTL != 7*24*time.Hour {
		t.Fatalf("windows = %s/%s/%s", cfg.EmailTTL, cfg.LinkTTL, cfg.CodeTTL)
	}
	if cfg.SweepInterval != time.Minute || cfg.RepairInterval != 5*time.Minute {
		t.Fatalf("intervals = %s/%s", cfg.SweepInterval, cfg.RepairInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
}

func TestParseConfigEnvThenFlags(t *testing.T) {
	t.Setenv("COPARENT_CONNECTIONS_HTTP_PORT", "9090")
	t.Setenv("COPARENT_CONNECTIONS_GRPC_PORT", "9092")
	t.Setenv("COPARENT_CODE_TTL", "5m")
	t.Setenv("COPARENT_REDIS_ADDR", "redis:6379")
	t.Setenv("COPARENT_SMTP_HOST", "smtp.example.com")

	fs := flag.NewFlagSet("connections", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-http-port", "9091", "-disable-sweeper"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPPort != 9091 {
		t.Fatalf("http port = %d, want flag override 9091", cfg.HTTPPort)
	}
	if cfg.GRPCPort != 9092 {
		t.Fatalf("grpc port = %d, want env 9092", cfg.GRPCPort)
	}
	if !cfg.DisableSweeper {
		t.Fatal("expected sweeper disabled")
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.SMTP.Host != "smtp.example.com" {
		t.Fatalf("nested config = %+v %+v", cfg.Redis, cfg.SMTP)
	}

	sc := cfg.serverConfig(nil)
	if sc.HTTPAddr != ":9091" || sc.GRPCAddr != ":9092" {
		t.Fatalf("server addrs = %s %s", sc.HTTPAddr, sc.GRPCAddr)
	}
	if sc.Windows.Code != 5*time.Minute {
		t.Fatalf("code window = %s", sc.Windows.Code)
	}
}

func TestParseConfigRejectsBadDuration(t *testing.T) {
	t.Setenv("COPARENT_LINK_TTL", "soon")
	fs := flag.NewFlagSet("connections", flag.ContinueOnError)
	if _, err := ParseConfig(fs, nil); err == nil {
		t.Fatal("expected parse error")
	}
}
