package kvat

// entryMeta is the metadata bitfield of an entry record.
// LSB-first: bit0 ACTIVE, bit1 OPEN, bit2 KEY_MULTIPAGE,
// bit3 VALUE_MULTIPAGE, bits4-5 KEY_FORMAT (only STRING=0 defined),
// bits6-7 reserved.
type entryMeta uint8

const (
	metaActive         entryMeta = 1 << 0
	metaOpen           entryMeta = 1 << 1
	metaKeyMultipage   entryMeta = 1 << 2
	metaValueMultipage entryMeta = 1 << 3
	metaKeyFormatMask  entryMeta = 0x30
	keyFormatString    entryMeta = 0x00
)

// Entry is the 4-byte on-media record binding a key chain to a value
// chain, plus metadata and a remains byte.
type Entry struct {
	Meta       entryMeta
	KeyStart   PageNumber
	ValueStart PageNumber
	Remains    uint8
}

// Active reports whether the entry is live.
func (e Entry) Active() bool { return e.Meta&metaActive != 0 }

// Open reports whether the entry is mid-write.
func (e Entry) Open() bool { return e.Meta&metaOpen != 0 }

// KeyMultipage reports whether the key chain spans more than one page.
func (e Entry) KeyMultipage() bool { return e.Meta&metaKeyMultipage != 0 }

// ValueMultipage reports whether the value chain spans more than one page.
func (e Entry) ValueMultipage() bool { return e.Meta&metaValueMultipage != 0 }

func (e Entry) marshal() [entrySize]byte {
	return [entrySize]byte{byte(e.Meta), byte(e.KeyStart), byte(e.ValueStart), e.Remains}
}

func unmarshalEntry(b []byte) Entry {
	return Entry{
		Meta:       entryMeta(b[0]),
		KeyStart:   PageNumber(b[1]),
		ValueStart: PageNumber(b[2]),
		Remains:    b[3],
	}
}

// readEntry performs a single 4-byte device transfer at entryAddr(i).
// No caching: readers always hit the device so post-crash state stays
// observable.
func (e *Engine) readEntry(i EntryIndex) (Entry, Err) {
	var buf [entrySize]byte
	if err := e.dev.Read(entryAddr(i), buf[:]); err != nil {
		return Entry{}, ErrTableError
	}
	return unmarshalEntry(buf[:]), ErrNone
}

// writeEntry performs a single 4-byte device transfer at entryAddr(i).
func (e *Engine) writeEntry(i EntryIndex, ent Entry) Err {
	b := ent.marshal()
	if err := e.dev.Program(entryAddr(i), b[:]); err != nil {
		return ErrTableError
	}
	return ErrNone
}
