package mail

import (
	"strings"
	"testing"
)

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("no-reply@licensefox.io", "jane@example.com", "Your license is ready", "<p>hi</p>"))

	for _, want := range []string{
		"From: no-reply@licensefox.io\r\n",
		"To: jane@example.com\r\n",
		"Subject: Your license is ready\r\n",
		"Content-Type: text/html; charset=UTF-8\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing header %q", want)
		}
	}
	if !strings.HasSuffix(msg, "\r\n\r\n<p>hi</p>") {
		t.Errorf("body not separated from headers: %q", msg)
	}
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		want   string
	}{
		{"plain host", "licensefox.io", "licensefox.io"},
		{"https url", "https://licensefox.io", "licensefox.io"},
		{"http url with port", "http://localhost:4000", "localhost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PUBLIC_DOMAIN", tt.domain)
			if got := senderDomain(); got != tt.want {
				t.Errorf("senderDomain() = %q, want %q", got, tt.want)
			}
		})
	}
}
