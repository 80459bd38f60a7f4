package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Exitf writes "<program>: <message>" to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	writeExit(os.Stderr, filepath.Base(os.Args[0]), format, args...)
	os.Exit(1)
}

func writeExit(w io.Writer, program, format string, args ...any) {
	fmt.Fprintf(w, "%s: %s\n", program, fmt.Sprintf(format, args...))
}
