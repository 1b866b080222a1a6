// Package classify guesses a device's type from its hostname, vendor
// string and open ports.
//
// Classification is a first-match cascade over an ordered rule table.
// Each rule is data: hostname keywords, vendor keywords and a port set.
// Adding a device class is a new table row, not new code.
package classify

import "strings"

// Icons maps device types to Lucide icon names.
var Icons = map[string]string{
	"Smartphone":       "smartphone",
	"Tablet":           "tablet",
	"Laptop":           "laptop",
	"Desktop":          "monitor",
	"Server":           "server",
	"Router/Gateway":   "router",
	"Network Bridge":   "network",
	"Switch":           "layers",
	"Access Point":     "rss",
	"TV/Entertainment": "tv",
	"IoT Device":       "cpu",
	"Printer":          "printer",
	"NAS/Storage":      "hard-drive",
	"Game Console":     "gamepad-2",
	"Generic":          "help-circle",
	"unknown":          "help-circle",
}

// Rule is one row of the classification table. A rule matches when every
// non-empty criterion holds: at least one hostname keyword, at least one
// vendor keyword, and at least one listed port.
type Rule struct {
	Type        string
	HostAny     []string
	VendorAny   []string
	OpenPortAny []int
}

// Result pairs a device type with its display icon.
type Result struct {
	Type string
	Icon string
}

// rules is evaluated top to bottom; the first match wins, so specific
// classes sit above the catch-alls.
var rules = []Rule{
	// Routers and infrastructure
	{Type: "Router/Gateway", HostAny: []string{"router", "gateway"}},
	{Type: "Router/Gateway", VendorAny: []string{"asus"}, OpenPortAny: []int{80, 443}},
	{Type: "Router/Gateway", VendorAny: []string{"tplink", "tp-link", "d-link", "cisco"}},

	// Mobile and tablets
	{Type: "Smartphone", HostAny: []string{"iphone", "android", "phone"}},
	{Type: "Tablet", HostAny: []string{"ipad", "tablet"}},
	{Type: "Laptop", HostAny: []string{"macbook"}, VendorAny: []string{"apple"}},
	{Type: "Desktop", VendorAny: []string{"apple"}},

	// Storage
	{Type: "NAS/Storage", HostAny: []string{"nas"}},
	{Type: "NAS/Storage", VendorAny: []string{"synology", "qnap"}},

	// Entertainment
	{Type: "TV/Entertainment", HostAny: []string{"tv", "bravia", "chromecast", "roku"}},
	{Type: "Game Console", HostAny: []string{"playstation", "nintendo", "xbox"}},

	// Printers
	{Type: "Printer", HostAny: []string{"printer"}},
	{Type: "Printer", VendorAny: []string{"hp", "canon", "epson", "brother"}},
	{Type: "Printer", OpenPortAny: []int{9100, 631}},

	// Servers
	{Type: "Server", HostAny: []string{"server", "proxmox", "esxi"}},

	// Anything serving a web page
	{Type: "Generic", OpenPortAny: []int{80, 443}},
}

// Classify returns the first matching type and icon for the given
// evidence, or the unknown placeholder pair when nothing matches.
func Classify(hostname, vendor string, openPorts []int) Result {
	hostname = strings.ToLower(hostname)
	vendor = strings.ToLower(vendor)
	portSet := make(map[int]bool, len(openPorts))
	for _, p := range openPorts {
		portSet[p] = true
	}

	for _, r := range rules {
		if r.matches(hostname, vendor, portSet) {
			return Result{Type: r.Type, Icon: Icons[r.Type]}
		}
	}
	return Result{Type: "unknown", Icon: Icons["unknown"]}
}

func (r Rule) matches(hostname, vendor string, ports map[int]bool) bool {
	if len(r.HostAny) > 0 && !containsAny(hostname, r.HostAny) {
		return false
	}
	if len(r.VendorAny) > 0 && !containsAny(vendor, r.VendorAny) {
		return false
	}
	if len(r.OpenPortAny) > 0 {
		hit := false
		for _, p := range r.OpenPortAny {
			if ports[p] {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return len(r.HostAny) > 0 || len(r.VendorAny) > 0 || len(r.OpenPortAny) > 0
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
