// Package channel provides the bounded output channel owned by every driver
// unit: a fixed-capacity ring of homogeneous items with one producer, at
// most one consuming reader, and any number of peek-only readers.
//
// The overflow policy is fixed per channel at creation: DropOldest overwrites
// the oldest item in place, RejectNewest refuses the write. Either way the
// overflow counter is incremented; writes never block.
//
// The ring keeps a single shared read cursor advanced only by the designated
// receive consumer. Peek-only readers carry independent cursors that are
// clamped forward when the items they point at have been overwritten or
// consumed, so slow peekers are lossy by design; the loss is surfaced per
// cursor through a skipped-item counter rather than hidden.
package channel
