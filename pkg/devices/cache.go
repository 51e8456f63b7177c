// Package devices maintains the device identity snapshot used to resolve
// a device id to its (vendor, product) pair at read-fact time.
package devices

import "github.com/pixellineage/inputlat/internal/model"

// Identity is one device's entry in an identity snapshot.
type Identity struct {
	DeviceID  model.DeviceID
	VendorID  uint16
	ProductID uint16
}

// Cache is a replaceable snapshot mapping device ids to vendor/product
// pairs. It has no temporal behavior: SetIdentities replaces the whole
// mapping, and lookups against a missing device resolve to (0, 0).
//
// The cache shares the engine's serialization contract: calls must be
// serialized by the caller, and no internal locking is performed.
type Cache struct {
	identities map[model.DeviceID]Identity
}

// NewCache returns an empty identity cache.
func NewCache() *Cache {
	return &Cache{identities: make(map[model.DeviceID]Identity)}
}

// SetIdentities replaces the entire snapshot. Entries from a prior
// snapshot are discarded, not merged. In-flight records that already
// resolved against the old snapshot are unaffected.
func (c *Cache) SetIdentities(snapshot []Identity) {
	m := make(map[model.DeviceID]Identity, len(snapshot))
	for _, id := range snapshot {
		m[id.DeviceID] = id
	}
	c.identities = m
}

// Resolve returns the vendor/product pair for a device id, or (0, 0) if
// the device is unknown. Unknown is not an error: a device may be removed
// between the read-fact and the snapshot update.
func (c *Cache) Resolve(deviceID model.DeviceID) (vendorID, productID uint16) {
	id, ok := c.identities[deviceID]
	if !ok {
		return 0, 0
	}
	return id.VendorID, id.ProductID
}

// Len returns the number of devices in the current snapshot.
func (c *Cache) Len() int {
	return len(c.identities)
}
