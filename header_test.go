package kvat

import "testing"

func TestHeaderMarshalUnmarshalRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		h    Header
	}{
		{"zero", Header{}},
		{"typical", Header{FormatID: formatID, PageSize: 64, PageCount: 200, PageBeginAddress: 816}},
		{"maxPageCount", Header{FormatID: formatID, PageSize: 4, PageCount: 255, PageBeginAddress: 1036}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.h.marshal()
			if len(b) != headerSize {
				t.Fatalf("marshal() length = %d, want %d", len(b), headerSize)
			}
			got := unmarshalHeader(b)
			if got != tt.h {
				t.Errorf("unmarshalHeader(marshal(h)) = %+v, want %+v", got, tt.h)
			}
		})
	}
}

func TestEntryMarshalUnmarshalRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		e    Entry
	}{
		{"zero", Entry{}},
		{"active single page", Entry{Meta: metaActive, KeyStart: 3, ValueStart: 4, Remains: 7}},
		{"active multipage both", Entry{Meta: metaActive | metaKeyMultipage | metaValueMultipage, KeyStart: 9, ValueStart: 200, Remains: 0}},
		{"open", Entry{Meta: metaOpen}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.e.marshal()
			if len(b) != entrySize {
				t.Fatalf("marshal() length = %d, want %d", len(b), entrySize)
			}
			got := unmarshalEntry(b[:])
			if got != tt.e {
				t.Errorf("unmarshalEntry(marshal(e)) = %+v, want %+v", got, tt.e)
			}
		})
	}
}

func TestEntryMetaPredicates(t *testing.T) {
	e := Entry{Meta: metaActive | metaValueMultipage}
	if !e.Active() {
		t.Error("Active() = false, want true")
	}
	if e.Open() {
		t.Error("Open() = true, want false")
	}
	if e.KeyMultipage() {
		t.Error("KeyMultipage() = true, want false")
	}
	if !e.ValueMultipage() {
		t.Error("ValueMultipage() = false, want true")
	}
}
