// Package config loads process configuration from the environment.
//
// Every variable the service reads is namespaced under EnvPrefix so it can
// share an environment with other processes.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "COPARENT_"

// ParseEnv loads configuration from the process environment into target.
func ParseEnv(target any) error {
	return ParseEnvFrom(target, nil)
}

// ParseEnvFrom loads configuration from environ into target. A nil environ
// reads the process environment. Fields whose key lacks EnvPrefix are
// rejected before anything is read.
func ParseEnvFrom(target any, environ map[string]string) error {
	if target == nil {
		return errors.New("parse env: target is required")
	}
	opts := env.Options{Environment: environ}
	if err := checkPrefix(target, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if err := env.ParseWithOptions(target, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func checkPrefix(target any, opts env.Options) error {
	fields, err := env.GetFieldParamsWithOptions(target, opts)
	if err != nil {
		return err
	}
	var unprefixed []string
	for _, field := range fields {
		if !strings.HasPrefix(field.Key, EnvPrefix) {
			unprefixed = append(unprefixed, field.Key)
		}
	}
	if len(unprefixed) > 0 {
		return fmt.Errorf("keys must start with %s: %s", EnvPrefix, strings.Join(unprefixed, ", "))
	}
	return nil
}
