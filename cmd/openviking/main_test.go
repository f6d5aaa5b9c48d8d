package main

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openviking/openviking/pkg/errdefs"
)

func TestExitCode(t *testing.T) {
	pathErr := &fs.PathError{Op: "open", Path: "/tmp/x", Err: errors.New("permission denied")}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"invalid input", errdefs.InvalidInput("viking://nope", errors.New("bad scope")), exitInvalidInput},
		{"not found", errdefs.NotFound("viking://resources/missing"), exitNotFound},
		{"conflict", errdefs.Conflict("viking://resources/dst", errors.New("exists")), exitIO},
		{"consistency drift", errdefs.Drift("viking://resources/a", errors.New("index lies")), exitIO},
		{"filesystem error", fmt.Errorf("write snapshot: %w", pathErr), exitIO},
		{"transient backend", errdefs.Transient(errors.New("429")), exitBackend},
		{"fatal backend", errdefs.Fatal(errors.New("model gone")), exitBackend},
		{"unclassified", errors.New("who knows"), exitBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
