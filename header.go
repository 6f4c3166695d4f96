package kvat

import "encoding/binary"

// formatID is the 16-bit magic written by Format; a header whose
// format_id doesn't match triggers a full reformat on Init.
const formatID uint16 = 0x4B56 // "KV"

// Header is the fixed-size structure at storage offset 0.
type Header struct {
	FormatID         uint16
	PageSize         uint32
	PageCount        uint8
	PageBeginAddress uint32
}

// marshal encodes the header to its bit-exact, little-endian on-media
// layout. Offsets 2:4 and 9:12 are unspecified padding, written zero.
func (h *Header) marshal() []byte {
	b := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(b[0:2], h.FormatID)
	binary.LittleEndian.PutUint32(b[4:8], h.PageSize)
	b[8] = h.PageCount
	binary.LittleEndian.PutUint32(b[12:16], h.PageBeginAddress)
	return b
}

func unmarshalHeader(b []byte) Header {
	return Header{
		FormatID:         binary.LittleEndian.Uint16(b[0:2]),
		PageSize:         binary.LittleEndian.Uint32(b[4:8]),
		PageCount:        b[8],
		PageBeginAddress: binary.LittleEndian.Uint32(b[12:16]),
	}
}

// readHeader fetches and decodes the header from the device.
func (e *Engine) readHeader() (Header, error) {
	buf := make([]byte, headerSize)
	if err := e.dev.Read(0, buf); err != nil {
		return Header{}, err
	}
	return unmarshalHeader(buf), nil
}

// writeHeader encodes and programs the header.
func (e *Engine) writeHeader(h Header) error {
	return e.dev.Program(0, h.marshal())
}
