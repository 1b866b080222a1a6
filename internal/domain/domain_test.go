package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", NormalizeMAC("AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", NormalizeMAC("aa-bb-cc-dd-ee-ff"))
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", NormalizeMAC("  aa:bb:cc:dd:ee:ff "))
	assert.Equal(t, "", NormalizeMAC(""))
	assert.Equal(t, "", NormalizeMAC("not-a-mac"))
	assert.Equal(t, "", NormalizeMAC("aa:bb:cc"))
}

func TestOUI(t *testing.T) {
	assert.Equal(t, "b8:27:eb", OUI("B8:27:EB:12:34:56"))
	assert.Equal(t, "", OUI(""))
	assert.Equal(t, "", OUI("garbage"))
}

func TestIsFillable(t *testing.T) {
	assert.True(t, IsFillable(""))
	assert.True(t, IsFillable("unknown"))
	assert.True(t, IsFillable("help-circle"))
	assert.False(t, IsFillable("Printer"))
	assert.False(t, IsFillable("my custom value"))
}

func TestIsPlaceholderName(t *testing.T) {
	assert.True(t, IsPlaceholderName("", "192.168.1.5"))
	assert.True(t, IsPlaceholderName("192.168.1.5", "192.168.1.5"))
	// Any IP-shaped name is a placeholder, even a stale one.
	assert.True(t, IsPlaceholderName("10.0.0.9", "192.168.1.5"))
	assert.False(t, IsPlaceholderName("Living Room TV", "192.168.1.5"))
}

func TestScanTypeIsDiscovery(t *testing.T) {
	assert.True(t, ScanTypeARP.IsDiscovery())
	assert.True(t, ScanTypePing.IsDiscovery())
	assert.True(t, ScanTypeDiscovery.IsDiscovery())
	assert.False(t, ScanTypeTCPSYN.IsDiscovery())
}

func TestDedupeFindings(t *testing.T) {
	raw := []HostFinding{
		{IP: "192.168.1.5", MAC: "AA:BB:CC:DD:EE:FF"},
		{IP: "192.168.1.5", MAC: "aa:bb:cc:dd:ee:ff"}, // same MAC, different case
		{IP: "192.168.1.6"},
		{IP: "192.168.1.6"}, // same IP, no MAC
		{IP: "192.168.1.7", MAC: "11:22:33:44:55:66"},
	}
	got := DedupeFindings(raw)
	assert.Len(t, got, 3)
	// First occurrence wins.
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", got[0].MAC)
}

func TestSnapshotNameResolution(t *testing.T) {
	now := time.Now()
	dev := &Device{ID: "d1", IP: "192.168.1.5", Status: StatusOnline}

	assert.Equal(t, "192.168.1.5", dev.Snapshot(now).Name)

	dev.Hostname = "host.lan"
	assert.Equal(t, "host.lan", dev.Snapshot(now).Name)

	dev.DisplayName = "Office Box"
	s := dev.Snapshot(now)
	assert.Equal(t, "Office Box", s.Name)
	assert.Equal(t, StatusOnline, s.Status)
	assert.Equal(t, now, s.Timestamp)
}
