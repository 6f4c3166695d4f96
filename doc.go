// Package kvat is a tiny key-value store that persists variable-length
// string-keyed byte values onto a block-addressable, word-aligned
// non-volatile memory device. It hides the device's fixed-granularity
// programming model behind a paged, chained on-media representation
// and offers dictionary semantics: save, retrieve, rename, delete,
// search.
//
// KVAT is single-threaded and cooperative: callers must not invoke an
// *Engine from more than one goroutine at a time.
package kvat
