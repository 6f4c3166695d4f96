package kvat

// chainLength walks a chain once to count its pages, capped at
// pageCount to defend against a corrupted cycle. Single-page chains
// are always length 1 without touching the device.
func (e *Engine) chainLength(start PageNumber, multi bool) (int, Err) {
	if !multi {
		return 1, ErrNone
	}
	count := 0
	cur := start
	for cur != 0 && count < e.pageCount {
		count++
		next, err := e.readChainNext(cur)
		if err != ErrNone {
			return 0, err
		}
		cur = next
	}
	return count, ErrNone
}

// fetchChain reads an entire chain into a destination buffer.
//
// If buf is non-nil and already large enough for the full record, it
// is used directly. If buf is non-nil but too small and forceToBuf is
// set, the read is truncated into buf (partial last-page copy
// included). Otherwise a large-enough buffer is allocated and buf is
// ignored. The returned slice always ends in a safety NUL byte.
//
// maxSize is pageCount*pageDataSize; it is the caller's job to turn
// that into an effective length (maxSize - remains for values, or
// first-NUL length for keys).
func (e *Engine) fetchChain(start PageNumber, multi bool, buf []byte, forceToBuf bool) (data []byte, maxSize int, truncated bool, kerr Err) {
	pageCount, err := e.chainLength(start, multi)
	if err != ErrNone {
		return nil, 0, false, ErrFetchFault
	}

	pageDataSize := int(e.header.PageSize)
	if multi {
		pageDataSize--
	}
	recordSize := pageDataSize*pageCount + 1

	var dst []byte
	switch {
	case buf != nil && len(buf) >= recordSize:
		dst = buf[:recordSize]
	case buf != nil && forceToBuf:
		dst = buf
		truncated = true
	default:
		dst = make([]byte, recordSize)
	}

	cur := start
	offset := 0
	page := make([]byte, e.header.PageSize)
	for i := 0; i < pageCount && offset < len(dst); i++ {
		if err := e.dev.Read(pageAddr(&e.header, cur), page); err != nil {
			return nil, 0, false, ErrFetchFault
		}
		var payload []byte
		var next PageNumber
		if multi {
			next = PageNumber(page[0])
			payload = page[1:]
		} else {
			payload = page
		}
		offset += copy(dst[offset:], payload)
		cur = next
	}
	if len(dst) > 0 {
		dst[len(dst)-1] = 0
	}

	maxSize = pageCount * pageDataSize
	return dst, maxSize, truncated, ErrNone
}

// writeChain writes data as a chain, optionally reusing an existing
// chain's pages to minimize allocator churn. On success it reports the
// new start page, whether the chain is multi-page, and the remains
// byte for the last page. On failure it returns start page 0 and
// leaves the bitmap consistent: freshly allocated pages are freed, and
// a partially-consumed multi-page reuse chain is patched back into a
// well-formed (shorter) chain.
func (e *Engine) writeChain(data []byte, reuseStart PageNumber, reuseMulti bool) (start PageNumber, multi bool, remains uint8, kerr Err) {
	multi = len(data) > int(e.header.PageSize)
	pageDataSize := int(e.header.PageSize)
	if multi {
		pageDataSize--
	}

	pagesNeeded := 1
	if multi {
		pagesNeeded = ceilDiv(len(data), pageDataSize)
	}
	if pagesNeeded > e.pageCount {
		return 0, false, 0, ErrInsufficientSpace
	}

	pages := make([]PageNumber, pagesNeeded)
	reuseCur := reuseStart
	reuseAvail := reuseStart != 0
	reuseDryIdx := pagesNeeded // sentinel: reuse never ran dry

	// rollback undoes every freshly allocated page in pages[reuseDryIdx:committed]
	// and, if the reuse chain was multi and partially consumed, patches its
	// last-reused page's next-pointer to 0 so it stays a well-formed chain.
	// committed is the number of positions assigned so far, so
	// pages[reuseDryIdx:committed] is exactly the set of pages this call
	// allocated: rollback(idx) after allocator exhaustion at position idx,
	// rollback(idx+1) after a Program fault once position idx is assigned.
	rollback := func(committed int) {
		// reuseDryIdx >= committed means no fresh page was allocated yet
		// (the fault hit a still-reused position), nothing to free.
		if reuseDryIdx < committed {
			for _, fp := range pages[reuseDryIdx:committed] {
				e.bitmap.mark(fp, false)
			}
		}
		if reuseMulti && reuseDryIdx > 0 && reuseDryIdx < pagesNeeded {
			e.patchNext(pages[reuseDryIdx-1], 0)
		}
	}

	// writePage assembles position idx's contents (next-pointer byte plus
	// payload slice, for multi chains) and programs it.
	writePage := func(idx int, next PageNumber) error {
		begin := idx * pageDataSize
		end := begin + pageDataSize
		if end > len(data) {
			end = len(data)
		}
		page := make([]byte, e.header.PageSize)
		if multi {
			page[0] = byte(next)
			copy(page[1:], data[begin:end])
		} else {
			copy(page, data[begin:end])
		}
		return e.dev.Program(pageAddr(&e.header, pages[idx]), page)
	}

	// Assign (reuse or allocate) each position as we go, writing position
	// idx-1 once idx's page number is known so its next-pointer can be
	// assembled. This is the interleaved assign/program sequence the
	// write_data algorithm describes, so a Program fault at any position
	// runs the same free-and-patch cleanup as an allocation fault.
	for idx := 0; idx < pagesNeeded; idx++ {
		if reuseAvail {
			pages[idx] = reuseCur
			if reuseMulti {
				next, err := e.readChainNext(reuseCur)
				if err != ErrNone {
					return 0, false, 0, err
				}
				reuseCur = next
				reuseAvail = reuseCur != 0
			} else {
				reuseAvail = false
			}
		} else {
			if reuseDryIdx == pagesNeeded {
				reuseDryIdx = idx
			}
			p := e.bitmap.allocLowest()
			if p == 0 {
				rollback(idx)
				return 0, false, 0, ErrInsufficientSpace
			}
			e.bitmap.mark(p, true)
			pages[idx] = p
		}

		if idx > 0 {
			if err := writePage(idx-1, pages[idx]); err != nil {
				rollback(idx + 1)
				return 0, false, 0, ErrInsufficientSpace
			}
		}
	}

	if err := writePage(pagesNeeded-1, 0); err != nil {
		rollback(pagesNeeded)
		return 0, false, 0, ErrInsufficientSpace
	}

	// Surplus tail of a longer reused chain is no longer referenced.
	if reuseAvail && reuseCur != 0 {
		if err := e.markChain(reuseCur, false, reuseMulti); err != ErrNone {
			return 0, false, 0, err
		}
	}

	overflow := len(data) % pageDataSize
	if overflow == 0 {
		remains = 0
	} else {
		remains = uint8(pageDataSize - overflow)
	}

	return pages[0], multi, remains, ErrNone
}
