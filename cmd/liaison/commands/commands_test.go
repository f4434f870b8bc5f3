package commands

import (
	"bytes"
	"io"
	"os"
	"testing"
)

// captureOutput redirects stdout for the duration of fn and returns what
// was written. Command run functions print with fmt directly.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}

	saved := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = saved }()

	fn()
	_ = w.Close()

	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		t.Fatalf("read captured output: %v", err)
	}
	_ = r.Close()
	return out.String()
}
