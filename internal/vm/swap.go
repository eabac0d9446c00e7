package vm

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"pintoscore/internal/blockdev"
	"pintoscore/internal/limits"
	"pintoscore/internal/mem"
)

// sectorsPerSlot is the number of disk sectors one swap slot (one
// page) occupies.
const sectorsPerSlot = mem.PageSize / blockdev.SectorSize

// Swap is the swap area of spec.md §4.6: a bitmap of page-sized slots
// on a dedicated block device. Grounded on freemap.Map's
// bitset-over-a-device shape, generalized from sector granularity to
// page-slot granularity and with no persistence requirement (spec.md
// §4.6: swap contents do not need to survive a restart).
type Swap struct {
	mu    sync.Mutex
	bits  *bitset.BitSet
	dev   blockdev.Device
	n     uint
	log   *slog.Logger
	limit *limits.Counter
}

// Option configures a Swap at construction time.
type Option func(*Swap)

// WithLimit ties swap-slot allocation to a shared system-wide counter,
// so swap exhaustion can be accounted for alongside frame and cache
// exhaustion.
func WithLimit(c *limits.Counter) Option { return func(s *Swap) { s.limit = c } }

// NewSwap creates a Swap area over dev, sized to hold as many
// page-slots as fit.
func NewSwap(dev blockdev.Device, log *slog.Logger, opts ...Option) *Swap {
	if log == nil {
		log = slog.Default()
	}
	n := uint(dev.NumSectors() / sectorsPerSlot)
	s := &Swap{bits: bitset.New(n), dev: dev, n: n, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SwapOut writes page (exactly mem.PageSize bytes) into a free slot
// and returns the slot index. It panics if the swap area is
// exhausted — spec.md §4.6 treats swap exhaustion as a fatal
// condition, not a recoverable error, since there is no lower tier to
// fall back to.
func (s *Swap) SwapOut(page []byte) (int, error) {
	if len(page) != mem.PageSize {
		return 0, fmt.Errorf("vm: swap out: page must be %d bytes, got %d", mem.PageSize, len(page))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.firstClearLocked()
	if !ok {
		panic("vm: swap area exhausted")
	}
	if s.limit != nil && !s.limit.Take(1) {
		panic("vm: swap area exhausted")
	}
	s.bits.Set(slot)
	for i := 0; i < sectorsPerSlot; i++ {
		sector := int(slot)*sectorsPerSlot + i
		if err := s.dev.WriteSector(sector, page[i*blockdev.SectorSize:(i+1)*blockdev.SectorSize]); err != nil {
			s.bits.Clear(slot)
			if s.limit != nil {
				s.limit.Give(1)
			}
			return 0, err
		}
	}
	return int(slot), nil
}

// SwapIn reads slot's page back into dst, which must be exactly
// mem.PageSize bytes.
func (s *Swap) SwapIn(slot int, dst []byte) error {
	if len(dst) != mem.PageSize {
		return fmt.Errorf("vm: swap in: dst must be %d bytes, got %d", mem.PageSize, len(dst))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < sectorsPerSlot; i++ {
		sector := slot*sectorsPerSlot + i
		if err := s.dev.ReadSector(sector, dst[i*blockdev.SectorSize:(i+1)*blockdev.SectorSize]); err != nil {
			return err
		}
	}
	return nil
}

// Release returns slot to the free pool without reading it back, used
// once a swapped page has been reloaded and its slot is no longer
// needed, per spec.md §4.6.
func (s *Swap) Release(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bits.Clear(uint(slot))
	if s.limit != nil {
		s.limit.Give(1)
	}
}

func (s *Swap) firstClearLocked() (uint, bool) {
	for i := uint(0); i < s.n; i++ {
		if !s.bits.Test(i) {
			return i, true
		}
	}
	return 0, false
}

// Count reports how many slots are currently occupied.
func (s *Swap) Count() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bits.Count()
}
