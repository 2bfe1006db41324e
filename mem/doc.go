// Package mem defines the core address-space types shared by the guest
// memory manager: half-open address ranges, allocation layouts, and the
// page-table entry flags surfaced to range visitors.
//
// The page table itself is an external collaborator. This package only
// specifies the contract the manager consumes (PageTable, EntryVisitor);
// the walk algorithm and hardware descriptor encoding stay opaque.
//
// # Related Packages
//
//   - github.com/joshuapare/guestmem/mem/tracker: region catalogs and fault handling
//   - github.com/joshuapare/guestmem/mem/shared: host-visible buffer allocation
//   - github.com/joshuapare/guestmem/mem/hyp: hypervisor call contract
package mem
