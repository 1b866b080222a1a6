package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		vendor   string
		ports    []int
		want     string
		wantIcon string
	}{
		{"router by hostname", "home-gateway", "", nil, "Router/Gateway", "router"},
		{"asus with web ui", "", "ASUSTek Computer Inc.", []int{443}, "Router/Gateway", "router"},
		{"asus without web ui is not a router", "", "ASUSTek Computer Inc.", nil, "unknown", "help-circle"},
		{"tplink vendor", "", "TP-Link Technologies", nil, "Router/Gateway", "router"},
		{"phone by hostname", "Bobs-iPhone", "", nil, "Smartphone", "smartphone"},
		{"tablet", "family-ipad", "Apple, Inc.", nil, "Tablet", "tablet"},
		{"apple laptop", "my-macbook-pro", "Apple, Inc.", nil, "Laptop", "laptop"},
		{"apple default is desktop", "something", "Apple, Inc.", nil, "Desktop", "monitor"},
		{"nas by hostname", "nas01", "", nil, "NAS/Storage", "hard-drive"},
		{"nas by vendor", "", "Synology Incorporated", nil, "NAS/Storage", "hard-drive"},
		{"tv", "living-room-tv", "", nil, "TV/Entertainment", "tv"},
		{"console", "PlayStation-5", "", nil, "Game Console", "gamepad-2"},
		{"printer by jetdirect port", "", "", []int{9100}, "Printer", "printer"},
		{"printer by vendor", "", "Canon Inc.", nil, "Printer", "printer"},
		{"server", "proxmox-host", "", nil, "Server", "server"},
		{"generic web device", "", "", []int{443}, "Generic", "help-circle"},
		{"no evidence", "", "", nil, "unknown", "help-circle"},
		{"unrecognized port", "", "", []int{12345}, "unknown", "help-circle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.hostname, tt.vendor, tt.ports)
			assert.Equal(t, tt.want, got.Type)
			assert.Equal(t, tt.wantIcon, got.Icon)
		})
	}
}

func TestClassifyOrdering(t *testing.T) {
	// A Synology box serving a web UI is a NAS, not Generic: specific
	// classes sit above the port catch-all.
	got := Classify("diskstation", "Synology Incorporated", []int{80, 443})
	assert.Equal(t, "NAS/Storage", got.Type)

	// Hostname evidence beats vendor evidence for Apple mobile devices.
	got = Classify("janes-iphone", "Apple, Inc.", nil)
	assert.Equal(t, "Smartphone", got.Type)
}
