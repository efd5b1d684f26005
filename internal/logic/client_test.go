package logic

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResolveClientFromUA(t *testing.T) {
	tests := []struct {
		name            string
		ua              string
		expectedDevice  string
		expectedBrowser string
		expectedIsBot   bool
	}{
		{
			name:            "Windows Chrome",
			ua:              "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.75 Safari/537.36",
			expectedDevice:  "desktop",
			expectedBrowser: "Chrome",
		},
		{
			name:            "iPhone Safari",
			ua:              "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/605.1.15",
			expectedDevice:  "mobile",
			expectedBrowser: "Safari",
		},
		{
			name:          "Googlebot",
			ua:            "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			expectedIsBot: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ResolveClientFromUA(tt.ua)
			if tt.expectedDevice != "" && ctx.DeviceType != tt.expectedDevice {
				t.Errorf("device = %q, want %q", ctx.DeviceType, tt.expectedDevice)
			}
			if tt.expectedBrowser != "" && !strings.Contains(ctx.Browser, tt.expectedBrowser) {
				t.Errorf("browser = %q, want it to contain %q", ctx.Browser, tt.expectedBrowser)
			}
			if ctx.IsBot != tt.expectedIsBot {
				t.Errorf("isBot = %v, want %v", ctx.IsBot, tt.expectedIsBot)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.5:4431"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := ClientIP(r, false); got != "10.0.0.5" {
		t.Errorf("untrusted proxy: got %q", got)
	}
	if got := ClientIP(r, true); got != "203.0.113.7" {
		t.Errorf("trusted proxy: got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "not-an-ip")
	if got := ClientIP(r, true); got != "10.0.0.5" {
		t.Errorf("garbage header should fall back to remote addr, got %q", got)
	}
}

func TestResolveClientNilGeoIP(t *testing.T) {
	ctx := ResolveClient(nil, "", "198.51.100.1")
	if ctx.IP != "198.51.100.1" || ctx.Country != "" {
		t.Errorf("unexpected context: %+v", ctx)
	}
}
