package cache

import (
	"io"
	"log/slog"
	"testing"
)

func TestKeyPrefix(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "snapshot"},
		{"user-1", "user-1:snapshot"},
		{"user-1:", "user-1:snapshot"},
	}
	for _, tt := range tests {
		r := New(Config{Addr: "127.0.0.1:0", Prefix: tt.prefix}, logger)
		if got := r.Key("snapshot"); got != tt.want {
			t.Fatalf("Key() with prefix %q = %q, want %q", tt.prefix, got, tt.want)
		}
		_ = r.Close()
	}
}
