package geoip

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestJSONFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.json")
	data := `[{"net":"203.0.113.0/24","country":"NZ"},{"net":"bogus","country":"XX"}]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	g, err := Init(path)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = g.Close() }()

	if got := g.Country(net.ParseIP("203.0.113.9")); got != "NZ" {
		t.Errorf("Country = %q, want NZ", got)
	}
	if got := g.Country(net.ParseIP("198.51.100.1")); got != "" {
		t.Errorf("Country = %q, want empty", got)
	}
}

func TestInitMissingFile(t *testing.T) {
	if _, err := Init(filepath.Join(t.TempDir(), "missing.mmdb")); err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestNilGeoIP(t *testing.T) {
	var g *GeoIP
	if g.Country(net.ParseIP("203.0.113.9")) != "" {
		t.Error("nil GeoIP should resolve nothing")
	}
}
