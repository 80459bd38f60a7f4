package config_test

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/liaizen/coparent/internal/platform/config"
)

// os.Exit cannot be observed in-process, so the test re-runs itself.
func TestExitfPrintsAndExitsNonZero(t *testing.T) {
	if os.Getenv("COPARENT_EXITF_CHILD") == "1" {
		config.Exitf("parse flags: %s", "unknown flag -sweeep")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestExitfPrintsAndExitsNonZero$")
	cmd.Env = append(os.Environ(), "COPARENT_EXITF_CHILD=1")
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %T %v, want exit error", err, err)
	}
	if exitErr.ExitCode() != 1 {
		t.Fatalf("exit code = %d, want 1", exitErr.ExitCode())
	}
	if !strings.Contains(string(out), ": parse flags: unknown flag -sweeep\n") {
		t.Fatalf("output = %q", out)
	}
}
