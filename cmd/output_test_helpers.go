package cmd

import (
	"bytes"
	"io"
	"os"
	"testing"
)

// captureOutput runs fn with os.Stdout redirected and returns what it printed.
func captureOutput(t testing.TB, fn func() error) (string, error) {
	t.Helper()
	readPipe, writePipe, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	defer func() {
		_ = readPipe.Close()
	}()

	originalStdout := os.Stdout
	os.Stdout = writePipe

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, readPipe)
		close(done)
	}()

	runErr := fn()

	os.Stdout = originalStdout
	if err := writePipe.Close(); err != nil {
		t.Fatalf("failed to close write pipe: %v", err)
	}
	<-done

	return buf.String(), runErr
}
