package tracker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/guestmem/internal/hypsim"
	"github.com/joshuapare/guestmem/internal/ptsim"
	"github.com/joshuapare/guestmem/mem"
	"github.com/joshuapare/guestmem/mem/dirty"
	"github.com/joshuapare/guestmem/mem/hyp"
)

// recordFlusher captures the ranges written back.
type recordFlusher struct {
	ranges []mem.MemoryRange
	err    error
}

func (f *recordFlusher) CleanRange(r mem.MemoryRange) error {
	if f.err != nil {
		return f.err
	}
	f.ranges = append(f.ranges, r)
	return nil
}

func TestHandleMMIOFault(t *testing.T) {
	guard := hypsim.NewGuard()
	tr, pt := newTestTracker(t, hyp.Capabilities{MmioGuard: guard})

	require.NoError(t, tr.MapMMIORange(mem.Range(0x9000, 0xA000)))

	// A write to an unmapped lazy page raises a translation fault.
	assert.Equal(t, ptsim.FaultTranslation, pt.Write(0x9010))

	require.NoError(t, tr.HandleMMIOFault(0x9010))
	assert.True(t, guard.Mapped(0x9000))
	assert.Equal(t, 1, guard.MapCalls)

	entry, ok := pt.Entry(0x9010)
	require.True(t, ok)
	assert.True(t, entry.Flags.Contains(mem.PTEValid|mem.PTEDevice|mem.PTEMmioLazy))

	// The retried access now succeeds.
	assert.Equal(t, ptsim.FaultNone, pt.Write(0x9010))
}

func TestHandleMMIOFault_RejectsUnregisteredPage(t *testing.T) {
	guard := hypsim.NewGuard()
	tr, _ := newTestTracker(t, hyp.Capabilities{MmioGuard: guard})

	// No MapMMIORange call: the faulting page was never registered.
	assert.ErrorIs(t, tr.HandleMMIOFault(0x9010), ErrInvalidPte)
	assert.Zero(t, guard.MapCalls, "verification failure makes no hypervisor call")
}

func TestHandleMMIOFault_RejectsAlreadyValidPage(t *testing.T) {
	guard := hypsim.NewGuard()
	tr, pt := newTestTracker(t, hyp.Capabilities{MmioGuard: guard})

	require.NoError(t, tr.MapMMIORange(mem.Range(0x9000, 0xA000)))
	require.NoError(t, tr.HandleMMIOFault(0x9010))
	_ = pt

	// A second fault on the same page finds it already valid.
	assert.ErrorIs(t, tr.HandleMMIOFault(0x9010), ErrInvalidPte)
	assert.Equal(t, 1, guard.MapCalls)
}

func TestHandleMMIOFault_NoGuardCapability(t *testing.T) {
	tr, _ := newTestTracker(t, hyp.Capabilities{})
	assert.ErrorIs(t, tr.HandleMMIOFault(0x9010), ErrInvalidPte)
}

func TestHandleMMIOFault_GuardMapFailure(t *testing.T) {
	guard := hypsim.NewGuard()
	guard.MapErr = errors.New("hyp refused")
	tr, pt := newTestTracker(t, hyp.Capabilities{MmioGuard: guard})

	require.NoError(t, tr.MapMMIORange(mem.Range(0x9000, 0xA000)))
	err := tr.HandleMMIOFault(0x9010)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidPte, "hypervisor errors pass through")

	// The page stays lazily registered.
	entry, ok := pt.Entry(0x9010)
	require.True(t, ok)
	assert.False(t, entry.Flags.Contains(mem.PTEValid))
}

func TestHandlePermissionFault(t *testing.T) {
	tr, pt := newTestTracker(t, hyp.Capabilities{})

	_, err := tr.AllocMut(0x1000, 0x1000)
	require.NoError(t, err)

	// With hardware dirty-state management off, the first write to a
	// clean page raises a permission fault for software to record.
	dirty.SetDBMEnabled(false)
	require.Equal(t, ptsim.FaultPermission, pt.Write(0x1234))

	require.NoError(t, tr.HandlePermissionFault(0x1234))
	entry, _ := pt.Entry(0x1234)
	assert.True(t, entry.IsDirty())
	assert.Equal(t, ptsim.FaultNone, pt.Write(0x1234), "retried write succeeds")

	// A second fault on the same page means the first fix never took.
	assert.ErrorIs(t, tr.HandlePermissionFault(0x1234), ErrSetPteDirtyFailed)
}

func TestHandlePermissionFault_UntrackedPage(t *testing.T) {
	tr, _ := newTestTracker(t, hyp.Capabilities{})

	_, err := tr.AllocRange(mem.Range(0x1000, 0x2000))
	require.NoError(t, err)

	// Read-only regions are not dirty tracked.
	assert.ErrorIs(t, tr.HandlePermissionFault(0x1234), ErrSetPteDirtyFailed)
	// Neither is unmapped memory.
	assert.ErrorIs(t, tr.HandlePermissionFault(0x4000), ErrSetPteDirtyFailed)
}

func TestHandlePermissionFault_WritesBackBeforeMarking(t *testing.T) {
	flusher := &recordFlusher{}
	tr, pt := newTestTracker(t, hyp.Capabilities{}, WithFlusher(flusher))

	_, err := tr.AllocMut(0x1000, 0x1000)
	require.NoError(t, err)

	dirty.SetDBMEnabled(false)
	require.NoError(t, tr.HandlePermissionFault(0x1234))
	require.Len(t, flusher.ranges, 1)
	assert.Equal(t, mem.Range(0x1000, 0x2000), flusher.ranges[0],
		"the whole page is written back before becoming writable")
	_ = pt
}

func TestClose_FlushesDirtyPages(t *testing.T) {
	flusher := &recordFlusher{}
	tr, pt := newTestTracker(t, hyp.Capabilities{}, WithFlusher(flusher))

	_, err := tr.AllocRangeMut(mem.Range(0x1000, 0x3000))
	require.NoError(t, err)
	_, err = tr.AllocRange(mem.Range(0x3000, 0x4000))
	require.NoError(t, err)

	// Dirty one of the two writable pages through the hardware path.
	require.Equal(t, ptsim.FaultNone, pt.Write(0x2100))

	require.NoError(t, tr.Close())
	assert.False(t, dirty.Enabled())
	require.Len(t, flusher.ranges, 1, "only the dirty page is written back")
	assert.Equal(t, mem.Range(0x2000, 0x3000), flusher.ranges[0])

	entry, _ := pt.Entry(0x2100)
	assert.False(t, entry.IsDirty(), "flushed pages return to the clean state")

	// Close is idempotent and does not flush again.
	require.NoError(t, tr.Close())
	assert.Len(t, flusher.ranges, 1)
}

func TestClose_FlushesPayloadRange(t *testing.T) {
	resetShared(t)
	flusher := &recordFlusher{}
	pt := ptsim.New()
	payload := mem.Range(0x4000, 0x5000)
	tr, err := New(pt, mem.Range(0x1000, 0x5000), mem.Range(0x9000, 0xA000), &payload,
		hyp.Capabilities{}, WithFlusher(flusher))
	require.NoError(t, err)
	t.Cleanup(func() { dirty.SetDBMEnabled(false) })

	// The payload image is mapped by early boot, not through the
	// tracker's own catalog.
	require.NoError(t, pt.MapDataDBM(payload))
	require.Equal(t, ptsim.FaultNone, pt.Write(0x4080))

	require.NoError(t, tr.Close())
	require.Len(t, flusher.ranges, 1)
	assert.Equal(t, payload, flusher.ranges[0])
}

func TestClose_FlushFailure(t *testing.T) {
	flusher := &recordFlusher{err: errors.New("write-back failed")}
	tr, pt := newTestTracker(t, hyp.Capabilities{}, WithFlusher(flusher))

	_, err := tr.AllocRangeMut(mem.Range(0x1000, 0x2000))
	require.NoError(t, err)
	require.Equal(t, ptsim.FaultNone, pt.Write(0x1000))

	assert.ErrorIs(t, tr.Close(), ErrFlushRegionFailed)
}

func TestMMIOUnmapAll(t *testing.T) {
	resetShared(t)
	guard := hypsim.NewGuard()
	pt := ptsim.New()
	tr, err := New(pt, mem.Range(0x1000, 0x5000), mem.Range(0x9000, 0xD000), nil,
		hyp.Capabilities{MmioGuard: guard})
	require.NoError(t, err)
	t.Cleanup(func() { dirty.SetDBMEnabled(false) })

	// Four lazy pages, two of them actually accessed.
	require.NoError(t, tr.MapMMIORange(mem.Range(0x9000, 0xD000)))
	require.NoError(t, tr.HandleMMIOFault(0x9000))
	require.NoError(t, tr.HandleMMIOFault(0xB000))
	require.Equal(t, 2, guard.MappedCount())

	require.NoError(t, tr.MMIOUnmapAll())
	assert.Zero(t, guard.MappedCount())
	assert.Equal(t, 2, guard.UnmapCalls, "pages never accessed are skipped")

	// The page-table mappings themselves stay valid.
	entry, ok := pt.Entry(0x9000)
	require.True(t, ok)
	assert.True(t, entry.Flags.Contains(mem.PTEValid))
}

func TestMMIOUnmapAll_NoGuardCapability(t *testing.T) {
	tr, _ := newTestTracker(t, hyp.Capabilities{})
	require.NoError(t, tr.MapMMIORange(mem.Range(0x9000, 0xA000)))
	require.NoError(t, tr.MMIOUnmapAll())
}

func TestMMIOUnmapAll_CorruptedEntry(t *testing.T) {
	guard := hypsim.NewGuard()
	tr, pt := newTestTracker(t, hyp.Capabilities{MmioGuard: guard})

	require.NoError(t, tr.MapMMIORange(mem.Range(0x9000, 0xA000)))

	// Smash one entry: valid device page without the lazy marker.
	require.NoError(t, pt.ModifyRange(mem.RangeFrom(0x9000, mem.PageSize),
		func(r mem.MemoryRange, entry *mem.Entry, level int) error {
			entry.Flags = mem.PTEValid | mem.PTEDevice
			return nil
		}))

	assert.ErrorIs(t, tr.MMIOUnmapAll(), ErrFailedToUnmap)
}

func TestInstallCurrentTake(t *testing.T) {
	require.Nil(t, Take(), "start from a clean slate")

	tr, _ := newTestTracker(t, hyp.Capabilities{})
	t.Cleanup(func() { Take() })

	require.NoError(t, Install(tr))
	assert.Same(t, tr, Current())
	assert.ErrorIs(t, Install(tr), ErrMemoryAlreadySet)

	got := Take()
	assert.Same(t, tr, got)
	assert.Nil(t, Current())
	require.NoError(t, Install(tr), "reinstall after Take succeeds")
}
