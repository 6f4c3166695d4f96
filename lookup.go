package kvat

// cstring returns the leading run of b up to (excluding) the first NUL
// byte, or all of b if there is none.
func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func matchKey(query, fetched string, prefix bool) bool {
	if prefix {
		return len(query) <= len(fetched) && fetched[:len(query)] == query
	}
	return query == fetched
}

// lookup performs a linear scan from startSlot to pageCount-1, ignoring
// non-ACTIVE entries, fetching each candidate's key chain into a small
// stack-sized buffer (longer keys spill to the heap, freed by the GC
// once the comparison is done) and comparing per matchKey.
func (e *Engine) lookup(key string, prefix bool, startSlot EntryIndex) (EntryIndex, Err) {
	var stackBuf [stringKeyStdLen]byte
	for i := int(startSlot); i < e.pageCount; i++ {
		ent, err := e.readEntry(EntryIndex(i))
		if err != ErrNone {
			return 0, err
		}
		if !ent.Active() {
			continue
		}
		data, _, _, ferr := e.fetchChain(ent.KeyStart, ent.KeyMultipage(), stackBuf[:], false)
		if ferr != ErrNone {
			return 0, ferr
		}
		if matchKey(key, cstring(data), prefix) {
			return EntryIndex(i), ErrNone
		}
	}
	return 0, ErrNotFound
}
