// Package hyp specifies the hypervisor call contract the memory manager
// consumes: explicit page sharing with the host, and the optional MMIO
// guard gating device-page access.
//
// Capability absence is a valid configuration, not an error. A nil
// MemSharer means the hypervisor does not require explicit sharing; a
// nil MmioGuard switches MMIO mapping from lazy to eager.
package hyp

// MmioGuardGranule is the unit size the MMIO guard maps and unmaps.
const MmioGuardGranule uintptr = 4096

// MemSharer makes individual guest pages visible to the untrusted host,
// one sharing granule at a time, keyed by physical address.
type MemSharer interface {
	// Share grants the host access to the granule at addr.
	Share(addr uintptr) error

	// Unshare revokes host access to the granule at addr.
	Unshare(addr uintptr) error
}

// MmioGuard is the hypervisor-enforced permission gate on MMIO pages,
// separate from the page-table valid bit.
type MmioGuard interface {
	// Map permits guest access to the device page at addr.
	Map(addr uintptr) error

	// Unmap revokes guest access to the device page at addr.
	Unmap(addr uintptr) error
}

// Capabilities carries the hypervisor facilities discovered at boot.
// Nil fields denote absent capabilities.
type Capabilities struct {
	MemSharer MemSharer
	MmioGuard MmioGuard
}
