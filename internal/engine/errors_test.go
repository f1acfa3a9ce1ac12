package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/kalambet/nyaysaathi/internal/ollama"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"503", &ollama.StatusError{Op: "chat", Code: 503}, true},
		{"500 wrapped", fmt.Errorf("asking: %w", &ollama.StatusError{Op: "chat", Code: 500}), true},
		{"429", &ollama.StatusError{Op: "chat", Code: 429}, true},
		{"408", &ollama.StatusError{Op: "chat", Code: 408}, true},
		{"400", &ollama.StatusError{Op: "chat", Code: 400}, false},
		{"404", &ollama.StatusError{Op: "chat", Code: 404}, false},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, true},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("chat: %w", context.DeadlineExceeded), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
