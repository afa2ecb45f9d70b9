package ingestion

import (
	"errors"
	"testing"
)

func TestExtractMACHeaderVariants(t *testing.T) {
	cases := []struct {
		name   string
		header []string
	}{
		{"labeled colon", []string{"MAC Address: AA:BB:CC:DD:EE:FF"}},
		{"labeled no space", []string{"MACAddress:AA:BB:CC:DD:EE:FF"}},
		{"labeled tab", []string{"MAC Address\tAA:BB:CC:DD:EE:FF"}},
		{"labeled hyphen separators", []string{"MAC Address: AA-BB-CC-DD-EE-FF"}},
		{"lower case", []string{"mac address: aa:bb:cc:dd:ee:ff"}},
		{"parenthesized", []string{"MAC address(AA:BB:CC:DD:EE:FF)"}},
		{"bare cell", []string{"AA:BB:CC:DD:EE:FF"}},
		{"bare in later cell", []string{"Temperature Export", "", "AA:BB:CC:DD:EE:FF"}},
		{"labeled in later cell", []string{"Logger Report", "MAC Address: AA:BB:CC:DD:EE:FF"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mac, err := ExtractMAC(tc.header)
			if err != nil {
				t.Fatalf("extract mac: %v", err)
			}
			if mac != "AA:BB:CC:DD:EE:FF" {
				t.Fatalf("expected canonical AA:BB:CC:DD:EE:FF, got %q", mac)
			}
		})
	}
}

func TestExtractMACFirstMatchWins(t *testing.T) {
	header := []string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02"}
	mac, err := ExtractMAC(header)
	if err != nil {
		t.Fatalf("extract mac: %v", err)
	}
	if mac != "AA:BB:CC:DD:EE:01" {
		t.Fatalf("expected first cell to win, got %q", mac)
	}
}

func TestExtractMACNotFound(t *testing.T) {
	_, err := ExtractMAC([]string{"Timestamp", "Temperature"})
	if !errors.Is(err, ErrMACNotFound) {
		t.Fatalf("expected ErrMACNotFound, got %v", err)
	}
}

func TestExtractMACParenVerbatim(t *testing.T) {
	mac, err := ExtractMAC([]string{"MAC address(logger-7)"})
	if err != nil {
		t.Fatalf("extract mac: %v", err)
	}
	if mac != "logger-7" {
		t.Fatalf("expected verbatim paren content, got %q", mac)
	}
}
