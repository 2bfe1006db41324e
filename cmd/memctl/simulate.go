package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/guestmem/internal/hypsim"
	"github.com/joshuapare/guestmem/internal/ptsim"
	"github.com/joshuapare/guestmem/mem"
	"github.com/joshuapare/guestmem/mem/hyp"
	"github.com/joshuapare/guestmem/mem/shared"
	"github.com/joshuapare/guestmem/mem/tracker"
)

var (
	simRAMBase  uint64
	simRAMSize  uint64
	simMMIOBase uint64
	simMMIOSize uint64
	simPool     string
	simNoGuard  bool
	simNoShare  bool
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().Uint64Var(&simRAMBase, "ram-base", 0x8000_0000, "Base address of main memory")
	cmd.Flags().Uint64Var(&simRAMSize, "ram-size", 64<<20, "Size of main memory in bytes")
	cmd.Flags().Uint64Var(&simMMIOBase, "mmio-base", 0x1000_0000, "Base address of the MMIO window")
	cmd.Flags().Uint64Var(&simMMIOSize, "mmio-size", 1<<20, "Size of the MMIO window in bytes")
	cmd.Flags().
		StringVar(&simPool, "pool", "dynamic", "Shared pool mode: dynamic, static, or heap")
	cmd.Flags().BoolVar(&simNoGuard, "no-guard", false, "Simulate a hypervisor without MMIO guard")
	cmd.Flags().
		BoolVar(&simNoShare, "no-share", false, "Simulate a hypervisor without a memory sharing call")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run a full manager lifecycle on a simulated platform",
		Long: `The simulate command boots a memory tracker over a simulated page table
and hypervisor, walks it through region allocation, lazy MMIO faulting,
dirty-page accounting, and shared-pool traffic, then tears it down and
reports what the simulated hypervisor observed.

Example:
  memctl simulate
  memctl simulate --pool heap --no-guard
  memctl simulate --ram-size $((16 << 20)) --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate()
		},
	}
}

// SimReport summarizes one simulated lifecycle.
type SimReport struct {
	Total      string
	MMIOWindow string
	PoolMode   string

	RegionsTracked int
	MMIORanges     int

	GuardMapCalls   int
	GuardUnmapCalls int
	ShareCalls      int
	UnshareCalls    int
	Outstanding     int

	SharedAllocs   int
	SharedDeallocs int
	DirtyFlushes   int
}

// flushCounter counts write-backs the tracker performs at teardown.
type flushCounter struct {
	n int
}

func (f *flushCounter) CleanRange(r mem.MemoryRange) error {
	log.Debug("write-back", "range", r.String())
	f.n++
	return nil
}

func runSimulate() error {
	total := mem.RangeFrom(uintptr(simRAMBase), uintptr(simRAMSize))
	mmioWindow := mem.RangeFrom(uintptr(simMMIOBase), uintptr(simMMIOSize))

	sharer := hypsim.NewSharer()
	guard := hypsim.NewGuard()
	caps := hyp.Capabilities{}
	// Heap mode models a hypervisor that needs no sharing call at all.
	if !simNoShare && simPool != "heap" {
		caps.MemSharer = sharer
	}
	if !simNoGuard {
		caps.MmioGuard = guard
	}

	pt := ptsim.New()
	flusher := &flushCounter{}
	t, err := tracker.New(pt, total, mmioWindow, nil, caps, tracker.WithFlusher(flusher))
	if err != nil {
		return err
	}
	if err := tracker.Install(t); err != nil {
		return err
	}
	defer func() {
		if t := tracker.Take(); t != nil {
			_ = t.Close()
		}
	}()
	log.Info("tracker up", "total", total.String(), "mmio", mmioWindow.String())

	if err := simulateRegions(t, total, pt); err != nil {
		return err
	}
	if err := simulateMMIO(t, mmioWindow, pt); err != nil {
		return err
	}
	if err := simulatePool(t, total); err != nil {
		return err
	}

	log.Info("tearing down")
	if err := t.Close(); err != nil {
		return err
	}

	stats, _ := shared.PoolStats()
	regions := 3
	if simPool == "static" {
		regions++
	}
	report := SimReport{
		Total:           t.Total().String(),
		MMIOWindow:      mmioWindow.String(),
		PoolMode:        simPool,
		RegionsTracked:  regions,
		MMIORanges:      1,
		GuardMapCalls:   guard.MapCalls,
		GuardUnmapCalls: guard.UnmapCalls,
		ShareCalls:      sharer.ShareCalls,
		UnshareCalls:    sharer.UnshareCalls,
		Outstanding:     sharer.Outstanding(),
		SharedAllocs:    stats.AllocCalls,
		SharedDeallocs:  stats.DeallocCalls,
		DirtyFlushes:    flusher.n,
	}

	if jsonOut {
		return printJSON(report)
	}
	printInfo("tracked %s with MMIO window %s (%s pool)\n",
		report.Total, report.MMIOWindow, report.PoolMode)
	printInfo("guard: %d map, %d unmap calls\n", report.GuardMapCalls, report.GuardUnmapCalls)
	printInfo("share: %d share, %d unshare calls, %d outstanding\n",
		report.ShareCalls, report.UnshareCalls, report.Outstanding)
	printInfo("pool: %d allocs, %d deallocs\n", report.SharedAllocs, report.SharedDeallocs)
	printInfo("flushed %d dirty pages\n", report.DirtyFlushes)
	return nil
}

// simulateRegions carves a read-only image, a writable data region, and
// a writable scratch region out of main memory, then dirties a few data
// pages the way a running payload would.
func simulateRegions(t *tracker.Tracker, total mem.MemoryRange, pt *ptsim.PageTable) error {
	image := mem.RangeFrom(total.Start, 4*mem.PageSize)
	data := mem.RangeFrom(image.End, 8*mem.PageSize)
	scratch := mem.RangeFrom(data.End, 4*mem.PageSize)

	if _, err := t.AllocRange(image); err != nil {
		return fmt.Errorf("tracking image %s: %w", image, err)
	}
	if _, err := t.AllocRangeMut(data); err != nil {
		return fmt.Errorf("tracking data %s: %w", data, err)
	}
	if _, err := t.AllocRangeMut(scratch); err != nil {
		return fmt.Errorf("tracking scratch %s: %w", scratch, err)
	}
	log.Info("regions tracked", "image", image.String(), "data", data.String(),
		"scratch", scratch.String())

	for addr := data.Start; addr < data.Start+3*mem.PageSize; addr += mem.PageSize {
		switch fault := pt.Write(addr + 0x40); fault {
		case ptsim.FaultNone:
			log.Debug("write landed", "addr", fmt.Sprintf("0x%x", addr))
		case ptsim.FaultPermission:
			if err := t.HandlePermissionFault(addr + 0x40); err != nil {
				return fmt.Errorf("permission fault at 0x%x: %w", addr, err)
			}
		default:
			return fmt.Errorf("unexpected fault %v writing 0x%x", fault, addr)
		}
	}
	return nil
}

// simulateMMIO maps a device window and touches its first two pages,
// exercising the guard fault path when a guard is present.
func simulateMMIO(t *tracker.Tracker, window mem.MemoryRange, pt *ptsim.PageTable) error {
	device := mem.RangeFrom(window.Start, 4*mem.PageSize)
	if err := t.MapMMIORange(device); err != nil {
		return fmt.Errorf("mapping device %s: %w", device, err)
	}
	log.Info("device mapped", "range", device.String(), "lazy", !simNoGuard)

	for addr := device.Start; addr < device.Start+2*mem.PageSize; addr += mem.PageSize {
		if pt.Write(addr) == ptsim.FaultTranslation {
			if err := t.HandleMMIOFault(addr); err != nil {
				return fmt.Errorf("MMIO fault at 0x%x: %w", addr, err)
			}
			log.Debug("MMIO page mapped on demand", "addr", fmt.Sprintf("0x%x", addr))
		}
	}
	return nil
}

// simulatePool brings up the shared pool in the selected mode and runs
// a little allocation traffic through it.
func simulatePool(t *tracker.Tracker, total mem.MemoryRange) error {
	switch simPool {
	case "dynamic":
		if err := t.InitDynamicSharedPool(hyp.MmioGuardGranule); err != nil {
			return fmt.Errorf("dynamic pool: %w", err)
		}
	case "static":
		// Carve the pool from the top of main memory.
		r := mem.Range(total.End-16*mem.PageSize, total.End)
		if err := t.InitStaticSharedPool(r); err != nil {
			return fmt.Errorf("static pool: %w", err)
		}
	case "heap":
		if err := t.InitHeapSharedPool(); err != nil {
			return fmt.Errorf("heap pool: %w", err)
		}
	default:
		return fmt.Errorf("unknown pool mode %q", simPool)
	}
	log.Info("shared pool up", "mode", simPool)

	layouts := []mem.Layout{
		mem.LayoutOf(64, 8),
		mem.LayoutOf(512, 64),
		mem.LayoutOf(3*mem.PageSize, mem.PageSize),
	}
	ptrs := make([]uintptr, 0, len(layouts))
	for _, l := range layouts {
		ptr := shared.Alloc(l)
		log.Debug("shared alloc", "size", l.Size, "align", l.Align,
			"ptr", fmt.Sprintf("0x%x", ptr))
		ptrs = append(ptrs, ptr)
	}
	for i, ptr := range ptrs {
		shared.Dealloc(ptr, layouts[i])
	}
	return nil
}
