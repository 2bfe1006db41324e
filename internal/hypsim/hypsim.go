// Package hypsim provides recording doubles for the hypervisor call
// contract. The sharer keeps a per-address share count so tests can
// assert that every granule shared is unshared exactly once; the guard
// keeps the set of currently guard-mapped pages.
package hypsim

import "fmt"

// Sharer records Share/Unshare calls keyed by granule address.
type Sharer struct {
	counts       map[uintptr]int
	ShareCalls   int
	UnshareCalls int
	ShareErr     error // returned by Share when set
	UnshareErr   error // returned by Unshare when set
}

// NewSharer returns a sharer with no granules shared.
func NewSharer() *Sharer {
	return &Sharer{counts: make(map[uintptr]int)}
}

// Share grants host access to the granule at addr. Sharing an already
// shared granule fails, as the hypervisor would refuse it.
func (s *Sharer) Share(addr uintptr) error {
	s.ShareCalls++
	if s.ShareErr != nil {
		return s.ShareErr
	}
	if s.counts[addr] > 0 {
		return fmt.Errorf("hypsim: granule 0x%x already shared", addr)
	}
	s.counts[addr]++
	return nil
}

// Unshare revokes host access to the granule at addr. Unsharing a
// granule that is not shared fails.
func (s *Sharer) Unshare(addr uintptr) error {
	s.UnshareCalls++
	if s.UnshareErr != nil {
		return s.UnshareErr
	}
	if s.counts[addr] == 0 {
		return fmt.Errorf("hypsim: granule 0x%x not shared", addr)
	}
	s.counts[addr]--
	return nil
}

// Outstanding returns the number of granules still shared.
func (s *Sharer) Outstanding() int {
	n := 0
	for _, c := range s.counts {
		n += c
	}
	return n
}

// SharedAt reports whether the granule at addr is currently shared.
func (s *Sharer) SharedAt(addr uintptr) bool {
	return s.counts[addr] > 0
}

// Guard records MMIO guard map/unmap calls.
type Guard struct {
	mapped     map[uintptr]bool
	MapCalls   int
	UnmapCalls int
	MapErr     error // returned by Map when set
	UnmapErr   error // returned by Unmap when set
}

// NewGuard returns a guard with no pages mapped.
func NewGuard() *Guard {
	return &Guard{mapped: make(map[uintptr]bool)}
}

// Map permits access to the device page at addr.
func (g *Guard) Map(addr uintptr) error {
	g.MapCalls++
	if g.MapErr != nil {
		return g.MapErr
	}
	g.mapped[addr] = true
	return nil
}

// Unmap revokes access to the device page at addr. Unmapping a page
// that was never guard mapped fails.
func (g *Guard) Unmap(addr uintptr) error {
	g.UnmapCalls++
	if g.UnmapErr != nil {
		return g.UnmapErr
	}
	if !g.mapped[addr] {
		return fmt.Errorf("hypsim: page 0x%x not guard mapped", addr)
	}
	delete(g.mapped, addr)
	return nil
}

// Mapped reports whether the page at addr is currently guard mapped.
func (g *Guard) Mapped(addr uintptr) bool {
	return g.mapped[addr]
}

// MappedCount returns the number of pages currently guard mapped.
func (g *Guard) MappedCount() int {
	return len(g.mapped)
}
