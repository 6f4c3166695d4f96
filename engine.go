package kvat

import "github.com/repixen/kvat-go/device"

// Options configures Format/Init, mirroring the teacher's
// NewBufMgr(bits, nodeMax, ...) signature: plain struct fields
// validated at construction, no config file format.
type Options struct {
	// PageSize must be a multiple of 4 and at most 256.
	PageSize uint32
	// PageCount is the total number of pages (slot 0 reserved); at
	// most 255 since pages are addressed with a single byte.
	PageCount uint8
}

func (o Options) validate() Err {
	if o.PageCount < 1 {
		return ErrHeapError
	}
	if o.PageSize == 0 || o.PageSize%devAlign != 0 || o.PageSize > maxPageSize {
		return ErrInvalidAccess
	}
	return ErrNone
}

// Engine is the KVAT storage engine: the header copy, the occupancy
// bitmap and the initialized flag the spec calls out as the module's
// only mutable state, bundled into one struct passed explicitly to
// every operation instead of living behind global statics.
//
// An Engine is not safe for concurrent use from more than one
// goroutine: KVAT's contract is single-threaded, cooperative access,
// same as the teacher's BufMgr assumes callers serialize through its
// latch protocol rather than the package re-deriving thread safety.
type Engine struct {
	dev         device.Device
	header      Header
	bitmap      occupancyBitmap
	pageCount   int
	initialized bool
}

// NewEngine wraps dev in an uninitialized Engine. Call Init before any
// other operation.
func NewEngine(dev device.Device) *Engine {
	return &Engine{dev: dev}
}

// Open is a convenience constructor equivalent to NewEngine followed
// by Init.
func Open(dev device.Device, opts Options) (*Engine, Err) {
	e := NewEngine(dev)
	if err := e.Init(opts); err != ErrNone {
		return nil, err
	}
	return e, ErrNone
}

// Init reads the header, formats from scratch if the format ID doesn't
// match, and rebuilds the occupancy bitmap by walking every active
// entry's key and value chains. The device is used as given: Init does
// not enable or initialize it. Any failure leaves the engine
// uninitialized.
func (e *Engine) Init(opts Options) Err {
	e.initialized = false
	if verr := opts.validate(); verr != ErrNone {
		return verr
	}

	hdr, err := e.readHeader()
	if err != nil {
		return ErrStorageFault
	}
	if hdr.FormatID != formatID {
		if ferr := e.rawFormat(opts); ferr != ErrNone {
			return ferr
		}
		hdr, err = e.readHeader()
		if err != nil {
			return ErrStorageFault
		}
	}

	e.header = hdr
	e.pageCount = int(hdr.PageCount)
	e.bitmap = newOccupancyBitmap(e.pageCount)
	e.bitmap.mark(0, true) // I3: page 0 permanently reserved

	for i := 1; i < e.pageCount; i++ {
		ent, eerr := e.readEntry(EntryIndex(i))
		if eerr != ErrNone {
			return ErrRecordFault
		}
		if !ent.Active() {
			continue
		}
		if merr := e.markChain(ent.KeyStart, true, ent.KeyMultipage()); merr != ErrNone {
			return ErrRecordFault
		}
		if merr := e.markChain(ent.ValueStart, true, ent.ValueMultipage()); merr != ErrNone {
			return ErrRecordFault
		}
	}

	e.initialized = true
	return ErrNone
}

// Format writes a fresh header and a default (all-zero) entry table.
// It is forbidden once the engine is initialized.
func (e *Engine) Format(opts Options) Err {
	if e.initialized {
		return ErrInvalidAccess
	}
	if verr := opts.validate(); verr != ErrNone {
		return verr
	}
	return e.rawFormat(opts)
}

func (e *Engine) rawFormat(opts Options) Err {
	hdr := Header{
		FormatID:         formatID,
		PageSize:         opts.PageSize,
		PageCount:        opts.PageCount,
		PageBeginAddress: naturalPage0Addr(int(opts.PageCount)),
	}
	if err := e.writeHeader(hdr); err != nil {
		return ErrTableError
	}

	var zero [entrySize]byte
	for i := 0; i < int(opts.PageCount); i++ {
		if err := e.dev.Program(entryAddr(EntryIndex(i)), zero[:]); err != nil {
			return ErrTableError
		}
	}
	return ErrNone
}

// deinit clears the initialized flag on a fatal mid-operation failure
// so subsequent calls fail fast with ErrInvalidAccess.
func (e *Engine) deinit() {
	e.initialized = false
}

// Save stores value under key, creating a new entry or overwriting an
// existing one.
func (e *Engine) Save(key string, value []byte) Err {
	if !e.initialized {
		return ErrInvalidAccess
	}

	slot, lerr := e.lookup(key, false, 1)
	isOverwrite := lerr == ErrNone
	if lerr != ErrNone && lerr != ErrNotFound {
		return lerr
	}

	var idx EntryIndex
	var ent Entry
	if isOverwrite {
		idx = slot
		var eerr Err
		ent, eerr = e.readEntry(idx)
		if eerr != ErrNone {
			return eerr
		}
	} else {
		found := false
		for i := 1; i < e.pageCount; i++ {
			cand, eerr := e.readEntry(EntryIndex(i))
			if eerr != ErrNone {
				return eerr
			}
			if !cand.Active() && !cand.Open() {
				idx = EntryIndex(i)
				found = true
				break
			}
		}
		if !found {
			return ErrInsufficientSpace
		}
		ent = Entry{}
	}

	openEnt := ent
	openEnt.Meta |= metaOpen
	if werr := e.writeEntry(idx, openEnt); werr != ErrNone {
		return werr
	}

	if !isOverwrite {
		keyBytes := append([]byte(key), 0)
		kstart, kmulti, _, kerr := e.writeChain(keyBytes, 0, false)
		if kerr != ErrNone {
			return ErrInsufficientSpace
		}
		ent.KeyStart = kstart
		if kmulti {
			ent.Meta |= metaKeyMultipage
		} else {
			ent.Meta &^= metaKeyMultipage
		}
	}

	var reuseStart PageNumber
	var reuseMulti bool
	if isOverwrite {
		reuseStart = ent.ValueStart
		reuseMulti = ent.ValueMultipage()
	}
	vstart, vmulti, remains, verr := e.writeChain(value, reuseStart, reuseMulti)
	if verr != ErrNone {
		return ErrInsufficientSpace
	}
	ent.ValueStart = vstart

	finalMeta := (ent.Meta & metaKeyMultipage) | metaActive | keyFormatString
	if vmulti {
		finalMeta |= metaValueMultipage
	}
	ent.Meta = finalMeta
	ent.Remains = remains

	if werr := e.writeEntry(idx, ent); werr != ErrNone {
		e.deinit()
		return ErrTableError
	}
	return ErrNone
}

// SaveString saves s as a null-terminated string value, equivalent to
// Save(key, append([]byte(s), 0)).
func (e *Engine) SaveString(key, s string) Err {
	return e.Save(key, append([]byte(s), 0))
}

// Retrieve fetches key's value. If buf is non-nil the value is copied
// into it, truncating if it doesn't fit; if buf is nil a new buffer is
// allocated to hold the full value. size is the effective value
// length (excluding remains padding).
func (e *Engine) Retrieve(key string, buf []byte) (out []byte, size int, kerr Err) {
	if !e.initialized {
		return nil, 0, ErrInvalidAccess
	}
	slot, lerr := e.lookup(key, false, 1)
	if lerr != ErrNone {
		return nil, 0, ErrNotFound
	}
	ent, eerr := e.readEntry(slot)
	if eerr != ErrNone {
		return nil, 0, eerr
	}

	data, maxSize, _, ferr := e.fetchChain(ent.ValueStart, ent.ValueMultipage(), buf, buf != nil)
	if ferr != ErrNone {
		return nil, 0, ErrFetchFault
	}
	return data, maxSize - int(ent.Remains), ErrNone
}

// RetrieveIntoBuffer fetches key's value into the caller-supplied buf,
// truncating if necessary.
func (e *Engine) RetrieveIntoBuffer(key string, buf []byte) (int, Err) {
	if buf == nil {
		return 0, ErrInvalidAccess
	}
	_, size, err := e.Retrieve(key, buf)
	return size, err
}

// RetrieveStringIntoBuffer fetches key's value into buf as a
// null-terminated string, truncating if necessary.
func (e *Engine) RetrieveStringIntoBuffer(key string, buf []byte) Err {
	if buf == nil {
		return ErrInvalidAccess
	}
	_, _, err := e.Retrieve(key, buf)
	return err
}

// RetrieveStringAlloc fetches key's value as a string, allocating a
// buffer sized to the value. A single trailing NUL (as written by
// SaveString) is stripped.
func (e *Engine) RetrieveStringAlloc(key string) (string, Err) {
	data, size, err := e.Retrieve(key, nil)
	if err != ErrNone {
		return "", err
	}
	if size < 0 {
		size = 0
	}
	if size > len(data) {
		size = len(data)
	}
	if size > 0 && data[size-1] == 0 {
		size--
	}
	return string(data[:size]), ErrNone
}

// Rename rebinds a key, reusing its existing key chain's pages.
// Resolves spec Open Question 1: a duplicate newKey is rejected before
// anything is mutated.
func (e *Engine) Rename(oldKey, newKey string) Err {
	if !e.initialized {
		return ErrInvalidAccess
	}
	if _, derr := e.lookup(newKey, false, 1); derr == ErrNone {
		return ErrKeyDuplicate
	}

	slot, lerr := e.lookup(oldKey, false, 1)
	if lerr != ErrNone {
		return ErrNotFound
	}
	ent, eerr := e.readEntry(slot)
	if eerr != ErrNone {
		return eerr
	}

	reuseStart := ent.KeyStart
	reuseMulti := ent.KeyMultipage()
	newKeyBytes := append([]byte(newKey), 0)

	_, kmulti, _, werr := e.writeChain(newKeyBytes, reuseStart, reuseMulti)
	if werr != ErrNone {
		oldKeyBytes := append([]byte(oldKey), 0)
		_, _, _, rerr := e.writeChain(oldKeyBytes, reuseStart, reuseMulti)
		if rerr != ErrNone {
			ent.Meta = 0
			e.writeEntry(slot, ent)
			e.deinit()
			return ErrUnknown
		}
		return ErrInsufficientSpace
	}

	if kmulti != reuseMulti {
		if kmulti {
			ent.Meta |= metaKeyMultipage
		} else {
			ent.Meta &^= metaKeyMultipage
		}
		if werr2 := e.writeEntry(slot, ent); werr2 != ErrNone {
			return werr2
		}
	}
	return ErrNone
}

// Delete removes key's entry and frees its key and value chains.
func (e *Engine) Delete(key string) Err {
	if !e.initialized {
		return ErrInvalidAccess
	}
	slot, lerr := e.lookup(key, false, 1)
	if lerr != ErrNone {
		return ErrNotFound
	}
	ent, eerr := e.readEntry(slot)
	if eerr != ErrNone {
		return eerr
	}
	if merr := e.markChain(ent.KeyStart, false, ent.KeyMultipage()); merr != ErrNone {
		return ErrTableError
	}
	if merr := e.markChain(ent.ValueStart, false, ent.ValueMultipage()); merr != ErrNone {
		return ErrTableError
	}
	if werr := e.writeEntry(slot, Entry{}); werr != ErrNone {
		return ErrTableError
	}
	return ErrNone
}

// SearchState is a resumable cursor over Search's prefix matches.
type SearchState EntryIndex

// SearchInitialState is the sentinel a fresh search starts from.
const SearchInitialState SearchState = 1

// Search finds the next active key matching prefix starting from
// *state, fetches it (forced, truncating) into out, and advances
// *state past the hit. Returns ErrNotFound once no further match
// exists.
func (e *Engine) Search(prefix string, state *SearchState, out []byte) Err {
	if !e.initialized {
		return ErrInvalidAccess
	}
	slot, lerr := e.lookup(prefix, true, EntryIndex(*state))
	if lerr != ErrNone {
		return ErrNotFound
	}
	ent, eerr := e.readEntry(slot)
	if eerr != ErrNone {
		return eerr
	}
	if _, _, _, ferr := e.fetchChain(ent.KeyStart, ent.KeyMultipage(), out, true); ferr != ErrNone {
		return ErrFetchFault
	}
	*state = SearchState(slot) + 1
	return ErrNone
}

// Stat reports page and entry occupancy for diagnostics.
type Stat struct {
	PageCount     int
	PagesUsed     int
	PagesFree     int
	ActiveEntries int
}

// Stat computes a diagnostic snapshot of the engine's page and entry
// occupancy, the same kind of audit the teacher's PoolAudit performs
// over its latch table for reporting, not correctness.
func (e *Engine) Stat() (Stat, Err) {
	if !e.initialized {
		return Stat{}, ErrInvalidAccess
	}
	used := 0
	for p := 0; p < e.pageCount; p++ {
		if e.bitmap.check(PageNumber(p)) {
			used++
		}
	}
	active := 0
	for i := 1; i < e.pageCount; i++ {
		ent, err := e.readEntry(EntryIndex(i))
		if err != ErrNone {
			return Stat{}, err
		}
		if ent.Active() {
			active++
		}
	}
	return Stat{
		PageCount:     e.pageCount,
		PagesUsed:     used,
		PagesFree:     e.pageCount - used,
		ActiveEntries: active,
	}, ErrNone
}

// Walk calls fn for every active key in table order (insertion-slot
// order, not sorted — not the ordered iteration the storage contract
// excludes), stopping early if fn returns false.
func (e *Engine) Walk(fn func(key string, slot EntryIndex) bool) Err {
	if !e.initialized {
		return ErrInvalidAccess
	}
	var stackBuf [stringKeyStdLen]byte
	for i := 1; i < e.pageCount; i++ {
		ent, err := e.readEntry(EntryIndex(i))
		if err != ErrNone {
			return err
		}
		if !ent.Active() {
			continue
		}
		data, _, _, ferr := e.fetchChain(ent.KeyStart, ent.KeyMultipage(), stackBuf[:], false)
		if ferr != ErrNone {
			return ferr
		}
		if !fn(cstring(data), EntryIndex(i)) {
			break
		}
	}
	return ErrNone
}
