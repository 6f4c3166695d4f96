package kvat

// PageNumber identifies a data page. 0 is reserved (invalid/null),
// mirroring the teacher's Uid for BufMgr page numbers: a named
// integral type so chain arithmetic can't be confused with an
// unrelated int.
type PageNumber uint8

// EntryIndex identifies a slot in the entry table. 0 is reserved and
// unused; slots are scanned starting from 1.
type EntryIndex uint8

const (
	// headerSize is sizeof(Header) on media: 2 (format_id) + 2 (pad)
	// + 4 (page_size) + 1 (page_count) + 3 (pad) + 4 (page_begin_address).
	headerSize = 16

	// entrySize is the fixed size of one entry table record.
	entrySize = 4

	// maxPageSize is the largest page size this format allows.
	maxPageSize = 256

	// devAlign is the device's program/read granularity in bytes.
	devAlign = 4

	// stringKeyStdLen is the size of the stack-allocated scratch
	// buffer lookup uses before spilling a long key to the heap.
	stringKeyStdLen = 16
)

// entryAddr returns the device address of entry table slot i.
func entryAddr(i EntryIndex) uint32 {
	return headerSize + entrySize*uint32(i)
}

// pageAddr returns the device address of page p (p must be non-zero).
func pageAddr(h *Header, p PageNumber) uint32 {
	return h.PageBeginAddress + h.PageSize*uint32(p)
}

// naturalPage0Addr is the address page 0 is placed at during format,
// immediately following the entry table.
func naturalPage0Addr(pageCount int) uint32 {
	return headerSize + entrySize*uint32(pageCount)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
