package device

import (
	"io"
	"os"

	"github.com/ncw/directio"
)

// DirectFileDevice is a real file-backed Device for hosts where KVAT's
// media is a regular file standing in for an on-chip EEPROM, opened
// with O_DIRECT so the OS page cache never masks a program fault. The
// direct-I/O block size is usually much larger than KVAT's 4-byte
// alignment requirement, so every transfer is bounced through an
// aligned scratch block sized to cover it.
type DirectFileDevice struct {
	f         *os.File
	size      uint32
	blockSize int
}

// OpenDirectFileDevice opens (creating if necessary) path as a
// direct-I/O backed device of the given size.
func OpenDirectFileDevice(path string, size uint32) (*DirectFileDevice, error) {
	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(alignUp(size, directio.AlignSize))); err != nil {
		f.Close()
		return nil, err
	}
	return &DirectFileDevice{f: f, size: size, blockSize: directio.AlignSize}, nil
}

// Close releases the underlying file descriptor.
func (d *DirectFileDevice) Close() error {
	return d.f.Close()
}

// Size implements Device.
func (d *DirectFileDevice) Size() uint32 {
	return d.size
}

// Read implements Device.
func (d *DirectFileDevice) Read(addr uint32, dst []byte) error {
	checkAligned(addr, len(dst))
	start := alignDown(addr, d.blockSize)
	end := alignUp(addr+uint32(len(dst)), d.blockSize)
	block := directio.AlignedBlock(int(end - start))
	if _, err := d.f.ReadAt(block, int64(start)); err != nil && err != io.EOF {
		return err
	}
	copy(dst, block[addr-start:])
	return nil
}

// Program implements Device. Because direct I/O transfers whole
// alignment blocks, a sub-block program is a read-modify-write of the
// covering block.
func (d *DirectFileDevice) Program(addr uint32, src []byte) error {
	checkAligned(addr, len(src))
	start := alignDown(addr, d.blockSize)
	end := alignUp(addr+uint32(len(src)), d.blockSize)
	block := directio.AlignedBlock(int(end - start))
	if _, err := d.f.ReadAt(block, int64(start)); err != nil && err != io.EOF {
		return ErrFault
	}
	copy(block[addr-start:], src)
	if _, err := d.f.WriteAt(block, int64(start)); err != nil {
		return ErrFault
	}
	return nil
}

func alignDown(v uint32, align int) uint32 {
	a := uint32(align)
	return (v / a) * a
}

func alignUp(v uint32, align int) uint32 {
	a := uint32(align)
	return ((v + a - 1) / a) * a
}
