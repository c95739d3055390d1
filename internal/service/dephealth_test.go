// dephealth_test.go — unit-тесты мониторинга зависимостей.
package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestJWKSHealthPath проверяет выбор path для HTTP-проверки IdP.
func TestJWKSHealthPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "JWKS Keycloak",
			input:    "http://idp:8080/realms/docportal/protocol/openid-connect/certs",
			expected: "/realms/docportal/protocol/openid-connect/certs",
		},
		{
			name:     "без path — /health",
			input:    "http://idp:8080",
			expected: "/health",
		},
		{
			name:     "некорректный URL — /health",
			input:    "://bad",
			expected: "/health",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := jwksHealthPath(tt.input); got != tt.expected {
				t.Errorf("jwksHealthPath(%q) = %q, ожидалось %q", tt.input, got, tt.expected)
			}
		})
	}
}

// TestNewDephealthService_WithoutPostgres — SQLite-режим: только IdP.
func TestNewDephealthService_WithoutPostgres(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ds, err := NewDephealthServiceWithRegisterer(DephealthConfig{
		ServiceID:     "docportal",
		Group:         "docportal",
		JWKSURL:       "http://127.0.0.1:1/realms/docportal/protocol/openid-connect/certs",
		CheckInterval: time.Minute,
	}, logger, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewDephealthServiceWithRegisterer() ошибка: %v", err)
	}
	if ds == nil {
		t.Fatal("DephealthService = nil")
	}
}
