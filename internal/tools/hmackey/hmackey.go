// Package hmackey prints fresh secrets for the connections service.
package hmackey

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
)

// Env names the tool can generate.
const (
	EnvTokenPepper       = "COPARENT_TOKEN_PEPPER"
	EnvAccessTokenSecret = "COPARENT_ACCESS_TOKEN_SECRET"
)

// Config holds configuration for key generation.
type Config struct {
	Bytes int
	// Env selects the variable name printed before the key.
	Env string
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32, Env: EnvTokenPepper}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "variable to emit ("+EnvTokenPepper+" or "+EnvAccessTokenSecret+")")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates the key and writes it to out as NAME=base64.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Bytes < 16 {
		return errors.New("bytes must be at least 16")
	}
	switch cfg.Env {
	case EnvTokenPepper, EnvAccessTokenSecret:
	case "":
		cfg.Env = EnvTokenPepper
	default:
		return fmt.Errorf("unknown env %q", cfg.Env)
	}
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	_, err := fmt.Fprintf(out, "%s=%s\n", cfg.Env, base64.StdEncoding.EncodeToString(buf))
	return err
}
