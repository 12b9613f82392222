package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestIsNoSuchKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"code", minio.ErrorResponse{Code: "NoSuchKey"}, true},
		{"wrapped code", fmt.Errorf("stat: %w", minio.ErrorResponse{Code: "NotFound"}), true},
		{"status 404", minio.ErrorResponse{Code: "Whatever", StatusCode: 404}, true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, false},
		{"gateway text", errors.New("upstream: The specified key does not exist."), true},
		{"other", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNoSuchKey(tt.err); got != tt.want {
				t.Fatalf("IsNoSuchKey(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
