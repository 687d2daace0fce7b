package cmd

import (
	"strings"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "expired"},
		{30 * time.Second, "< 1 minute"},
		{time.Minute, "1 minute"},
		{45 * time.Minute, "45 minutes"},
		{time.Hour, "1 hour"},
		{5 * time.Hour, "5 hours"},
		{24 * time.Hour, "1 day"},
		{72 * time.Hour, "3 days"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatExpiry(t *testing.T) {
	if got := formatExpiry(time.Time{}); got != "never" {
		t.Errorf("formatExpiry(zero) = %q", got)
	}
	if got := formatExpiry(time.Now().Add(90 * time.Minute)); got != "in 1 hour" {
		t.Errorf("formatExpiry(+90m) = %q", got)
	}
	if got := formatExpiry(time.Now().Add(-10 * time.Minute)); !strings.Contains(got, "expired 9 minutes ago") && !strings.Contains(got, "expired 10 minutes ago") {
		t.Errorf("formatExpiry(-10m) = %q", got)
	}
}
