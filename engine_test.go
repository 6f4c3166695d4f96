package kvat

import (
	"bytes"
	"testing"

	"github.com/repixen/kvat-go/device"
)

const (
	testPageSize  = 12
	testPageCount = 128
)

func testDeviceSize(pageSize uint32, pageCount uint8) uint32 {
	return headerSize + entrySize*uint32(pageCount) + pageSize*uint32(pageCount)
}

func newTestEngine(t *testing.T) (*Engine, *device.MemDevice) {
	t.Helper()
	opts := Options{PageSize: testPageSize, PageCount: testPageCount}
	dev := device.NewMemDevice(testDeviceSize(opts.PageSize, opts.PageCount))
	e, err := Open(dev, opts)
	if err != ErrNone {
		t.Fatalf("Open() = %v, want ErrNone", err)
	}
	return e, dev
}

func TestSingleKeyRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.SaveString("n", "ok"); err != ErrNone {
		t.Fatalf("SaveString() = %v, want ErrNone", err)
	}
	got, err := e.RetrieveStringAlloc("n")
	if err != ErrNone {
		t.Fatalf("RetrieveStringAlloc() = %v, want ErrNone", err)
	}
	if got != "ok" {
		t.Errorf("RetrieveStringAlloc() = %q, want %q", got, "ok")
	}
}

func TestMultiPageRoundTripWithNewline(t *testing.T) {
	e, _ := newTestEngine(t)
	value := "First string saved. \nMake sure it's on multiple pages."
	if err := e.SaveString("singKey", value); err != ErrNone {
		t.Fatalf("SaveString() = %v, want ErrNone", err)
	}
	got, err := e.RetrieveStringAlloc("singKey")
	if err != ErrNone {
		t.Fatalf("RetrieveStringAlloc() = %v, want ErrNone", err)
	}
	if got != value {
		t.Errorf("RetrieveStringAlloc() = %q, want %q", got, value)
	}
}

func TestKeyWithSlashes(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.SaveString("second/key/this.h", "Contents of header"); err != ErrNone {
		t.Fatalf("SaveString() = %v, want ErrNone", err)
	}
	if _, err := e.RetrieveStringAlloc("second/key/this.c"); err != ErrNotFound {
		t.Errorf("RetrieveStringAlloc(miss) = %v, want ErrNotFound", err)
	}
	got, err := e.RetrieveStringAlloc("second/key/this.h")
	if err != ErrNone {
		t.Fatalf("RetrieveStringAlloc() = %v, want ErrNone", err)
	}
	if got != "Contents of header" {
		t.Errorf("RetrieveStringAlloc() = %q, want %q", got, "Contents of header")
	}
}

func TestOverwriteWithLongerValueKeepsKeyPage(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.SaveString("k", "First."); err != ErrNone {
		t.Fatalf("SaveString(1) = %v, want ErrNone", err)
	}
	slot, lerr := e.lookup("k", false, 1)
	if lerr != ErrNone {
		t.Fatalf("lookup() = %v, want ErrNone", lerr)
	}
	before, _ := e.readEntry(slot)

	if err := e.SaveString("k", "First. This part is new. This is newer."); err != ErrNone {
		t.Fatalf("SaveString(2) = %v, want ErrNone", err)
	}
	after, _ := e.readEntry(slot)
	if after.KeyStart != before.KeyStart {
		t.Errorf("KeyStart changed across overwrite: %d -> %d", before.KeyStart, after.KeyStart)
	}

	got, err := e.RetrieveStringAlloc("k")
	if err != ErrNone {
		t.Fatalf("RetrieveStringAlloc() = %v, want ErrNone", err)
	}
	if got != "First. This part is new. This is newer." {
		t.Errorf("RetrieveStringAlloc() = %q", got)
	}
}

func TestDeleteThenMiss(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.SaveString("x", "v"); err != ErrNone {
		t.Fatalf("SaveString() = %v, want ErrNone", err)
	}
	if err := e.Delete("x"); err != ErrNone {
		t.Fatalf("Delete() = %v, want ErrNone", err)
	}
	if _, err := e.RetrieveStringAlloc("x"); err != ErrNotFound {
		t.Errorf("RetrieveStringAlloc() = %v, want ErrNotFound", err)
	}
}

func TestRename(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.SaveString("a", "1"); err != ErrNone {
		t.Fatalf("SaveString() = %v, want ErrNone", err)
	}
	if err := e.Rename("a", "b"); err != ErrNone {
		t.Fatalf("Rename() = %v, want ErrNone", err)
	}
	got, err := e.RetrieveStringAlloc("b")
	if err != ErrNone {
		t.Fatalf("RetrieveStringAlloc(b) = %v, want ErrNone", err)
	}
	if got != "1" {
		t.Errorf("RetrieveStringAlloc(b) = %q, want %q", got, "1")
	}
	if _, err := e.RetrieveStringAlloc("a"); err != ErrNotFound {
		t.Errorf("RetrieveStringAlloc(a) = %v, want ErrNotFound", err)
	}
}

func TestRenameRejectsDuplicateTarget(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.SaveString("a", "1"); err != ErrNone {
		t.Fatalf("SaveString(a) = %v", err)
	}
	if err := e.SaveString("b", "2"); err != ErrNone {
		t.Fatalf("SaveString(b) = %v", err)
	}
	if err := e.Rename("a", "b"); err != ErrKeyDuplicate {
		t.Errorf("Rename() = %v, want ErrKeyDuplicate", err)
	}
}

func TestSaveDeleteSaveRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	value := []byte("hello world")
	if err := e.Save("k", value); err != ErrNone {
		t.Fatalf("Save(1) = %v", err)
	}
	if err := e.Delete("k"); err != ErrNone {
		t.Fatalf("Delete() = %v", err)
	}
	if err := e.Save("k", value); err != ErrNone {
		t.Fatalf("Save(2) = %v", err)
	}
	got, size, err := e.Retrieve("k", nil)
	if err != ErrNone {
		t.Fatalf("Retrieve() = %v", err)
	}
	if !bytes.Equal(got[:size], value) {
		t.Errorf("Retrieve() = %q, want %q", got[:size], value)
	}
}

func TestSearchPrefixIteration(t *testing.T) {
	e, _ := newTestEngine(t)
	keys := []string{"app/a", "app/b", "other"}
	for _, k := range keys {
		if err := e.SaveString(k, "v"); err != ErrNone {
			t.Fatalf("SaveString(%s) = %v", k, err)
		}
	}

	state := SearchInitialState
	found := map[string]bool{}
	buf := make([]byte, stringKeyStdLen)
	for {
		err := e.Search("app/", &state, buf)
		if err == ErrNotFound {
			break
		}
		if err != ErrNone {
			t.Fatalf("Search() = %v", err)
		}
		found[cstring(buf)] = true
	}
	if !found["app/a"] || !found["app/b"] {
		t.Errorf("Search() found = %v, want app/a and app/b", found)
	}
	if found["other"] {
		t.Errorf("Search() unexpectedly matched non-prefixed key")
	}
}

func TestRetrieveIntoSmallBufferTruncates(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Save("k", []byte("0123456789")); err != ErrNone {
		t.Fatalf("Save() = %v", err)
	}
	small := make([]byte, 4)
	size, err := e.RetrieveIntoBuffer("k", small)
	if err != ErrNone {
		t.Fatalf("RetrieveIntoBuffer() = %v", err)
	}
	if size != len("0123456789") {
		t.Errorf("RetrieveIntoBuffer() size = %d, want full logical size %d even though truncated", size, len("0123456789"))
	}
	if !bytes.Equal(small[:3], []byte("012")) {
		t.Errorf("truncated buffer = %q, want prefix %q", small, "0123456789")
	}
}

func TestOperationsRequireInit(t *testing.T) {
	dev := device.NewMemDevice(testDeviceSize(testPageSize, testPageCount))
	e := NewEngine(dev)
	if err := e.Save("k", []byte("v")); err != ErrInvalidAccess {
		t.Errorf("Save() before Init = %v, want ErrInvalidAccess", err)
	}
	if _, _, err := e.Retrieve("k", nil); err != ErrInvalidAccess {
		t.Errorf("Retrieve() before Init = %v, want ErrInvalidAccess", err)
	}
}

func TestFormatForbiddenAfterInit(t *testing.T) {
	e, _ := newTestEngine(t)
	opts := Options{PageSize: testPageSize, PageCount: testPageCount}
	if err := e.Format(opts); err != ErrInvalidAccess {
		t.Errorf("Format() after Init = %v, want ErrInvalidAccess", err)
	}
}

func TestReInitRebuildsBitmapFromMedia(t *testing.T) {
	opts := Options{PageSize: testPageSize, PageCount: testPageCount}
	dev := device.NewMemDevice(testDeviceSize(opts.PageSize, opts.PageCount))
	e1, err := Open(dev, opts)
	if err != ErrNone {
		t.Fatalf("Open() = %v", err)
	}
	if err := e1.SaveString("k", "value that needs a few pages to store"); err != ErrNone {
		t.Fatalf("SaveString() = %v", err)
	}

	e2 := NewEngine(dev)
	if err := e2.Init(opts); err != ErrNone {
		t.Fatalf("Init(reopen) = %v", err)
	}

	for p := 0; p < e1.pageCount; p++ {
		if e1.bitmap.check(PageNumber(p)) != e2.bitmap.check(PageNumber(p)) {
			t.Errorf("bitmap mismatch at page %d after reinit", p)
		}
	}
}

func TestSaveInsufficientSpaceWhenValueTooLarge(t *testing.T) {
	opts := Options{PageSize: testPageSize, PageCount: 4}
	dev := device.NewMemDevice(testDeviceSize(opts.PageSize, opts.PageCount))
	e, err := Open(dev, opts)
	if err != ErrNone {
		t.Fatalf("Open() = %v", err)
	}
	huge := make([]byte, 1000)
	if err := e.Save("k", huge); err != ErrInsufficientSpace {
		t.Errorf("Save(huge) = %v, want ErrInsufficientSpace", err)
	}
}

// TestOverwriteProgramFaultDoesNotLeakPages drives a Program fault partway
// through an overwrite that needs more pages than its old (reused) value
// chain held, then checks the occupancy bitmap has no pages left marked
// USED beyond what the surviving entry actually occupies.
func TestOverwriteProgramFaultDoesNotLeakPages(t *testing.T) {
	opts := Options{PageSize: testPageSize, PageCount: 16}
	dev := device.NewMemDevice(testDeviceSize(opts.PageSize, opts.PageCount))
	e, err := Open(dev, opts)
	if err != ErrNone {
		t.Fatalf("Open() = %v", err)
	}

	if err := e.Save("k", []byte("ab")); err != ErrNone {
		t.Fatalf("Save(initial) = %v, want ErrNone", err)
	}
	before, serr := e.Stat()
	if serr != ErrNone {
		t.Fatalf("Stat() = %v, want ErrNone", serr)
	}

	// The old value chain is a single page; the overwrite below needs
	// four (one reused, three freshly allocated). Arm the device to
	// fault on the very last page write, after every fresh page has
	// already been allocated and some already committed, so a leak in
	// the allocator rollback would show up as extra USED pages.
	dev.SetFaultAfter(4)
	overwrite := bytes.Repeat([]byte("x"), 40)
	if err := e.Save("k", overwrite); err != ErrInsufficientSpace {
		t.Fatalf("Save(overwrite) = %v, want ErrInsufficientSpace", err)
	}

	after, serr := e.Stat()
	if serr != ErrNone {
		t.Fatalf("Stat() = %v, want ErrNone", serr)
	}
	if after.PagesUsed != before.PagesUsed {
		t.Errorf("PagesUsed after faulted overwrite = %d, want unchanged %d (pages leaked)", after.PagesUsed, before.PagesUsed)
	}
}
