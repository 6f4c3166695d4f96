package device

import (
	"io"

	"github.com/dsnet/golib/memfile"
)

// MemDevice is a RAM-backed Device, the fake the storage engine's own
// tests substitute for real media. Built on memfile.File the same way
// the teacher's dummy buffer manager stands in for its real one with an
// in-process map: no disk, no OS file descriptor, just bytes.
type MemDevice struct {
	f          *memfile.File
	size       uint32
	faultAfter int // negative disables fault injection
}

// NewMemDevice allocates a zero-filled RAM device of the given size.
func NewMemDevice(size uint32) *MemDevice {
	return &MemDevice{
		f:          memfile.New(make([]byte, size)),
		size:       size,
		faultAfter: -1,
	}
}

// SetFaultAfter arms the device to fail its n'th Program call from now
// (0 faults the very next call), letting tests exercise KVAT's
// mid-operation failure paths without a real device.
func (d *MemDevice) SetFaultAfter(n int) {
	d.faultAfter = n
}

// Size implements Device.
func (d *MemDevice) Size() uint32 {
	return d.size
}

// Read implements Device.
func (d *MemDevice) Read(addr uint32, dst []byte) error {
	checkAligned(addr, len(dst))
	if _, err := d.f.ReadAt(dst, int64(addr)); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// Program implements Device.
func (d *MemDevice) Program(addr uint32, src []byte) error {
	checkAligned(addr, len(src))
	if d.faultAfter == 0 {
		return ErrFault
	}
	if d.faultAfter > 0 {
		d.faultAfter--
	}
	_, err := d.f.WriteAt(src, int64(addr))
	return err
}
