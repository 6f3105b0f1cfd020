package htmlutil

import "testing"

func TestErrorText(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{"json passthrough", "application/json", `{"message":"You are not subscribed"}`, `{"message":"You are not subscribed"}`},
		{"gateway page", "text/html; charset=UTF-8", "<html><body><h1>502 Bad Gateway</h1>\n<p>nginx</p></body></html>", "502 Bad Gateway nginx"},
		{"entities", "TEXT/HTML", "<p>Zu viele&nbsp;Anfragen &amp; Limits</p>", "Zu viele Anfragen & Limits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(ErrorText(tt.contentType, []byte(tt.body))); got != tt.want {
				t.Errorf("ErrorText() = %q, want %q", got, tt.want)
			}
		})
	}
}
