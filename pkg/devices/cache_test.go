package devices

import (
	"testing"

	"github.com/pixellineage/inputlat/internal/model"
)

func TestResolveUnknownDevice(t *testing.T) {
	c := NewCache()
	vendor, product := c.Resolve(model.DeviceID(100))
	if vendor != 0 || product != 0 {
		t.Errorf("unknown device resolved to (%d, %d), want (0, 0)", vendor, product)
	}
}

func TestResolveKnownDevice(t *testing.T) {
	c := NewCache()
	c.SetIdentities([]Identity{
		{DeviceID: 101, VendorID: 5, ProductID: 6},
		{DeviceID: 100, VendorID: 50, ProductID: 60},
	})

	vendor, product := c.Resolve(100)
	if vendor != 50 || product != 60 {
		t.Errorf("device 100 resolved to (%d, %d), want (50, 60)", vendor, product)
	}
}

func TestSetIdentitiesReplacesWholesale(t *testing.T) {
	c := NewCache()
	c.SetIdentities([]Identity{{DeviceID: 100, VendorID: 50, ProductID: 60}})
	c.SetIdentities([]Identity{{DeviceID: 200, VendorID: 7, ProductID: 8}})

	if vendor, _ := c.Resolve(100); vendor != 0 {
		t.Errorf("stale entry survived snapshot replacement: vendor=%d", vendor)
	}
	if vendor, product := c.Resolve(200); vendor != 7 || product != 8 {
		t.Errorf("new snapshot entry missing: (%d, %d)", vendor, product)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestDuplicateDeviceIDLastWins(t *testing.T) {
	c := NewCache()
	c.SetIdentities([]Identity{
		{DeviceID: 100, VendorID: 1, ProductID: 2},
		{DeviceID: 100, VendorID: 3, ProductID: 4},
	})
	if vendor, product := c.Resolve(100); vendor != 3 || product != 4 {
		t.Errorf("duplicate device id resolved to (%d, %d), want last entry (3, 4)", vendor, product)
	}
}
