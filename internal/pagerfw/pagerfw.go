// Package pagerfw is a minimal in-process stand-in for the external pager
// framework described in spec §6 (ports bucket, send rights, reference
// counting) — just enough surface for internal/registry to implement and
// test the pager lifecycle without a real microkernel underneath it.
//
// Handle's reference counting follows design option (b) from spec §9's
// "weak back-reference" note: a strong handle plus a boolean alive flag
// cleared at the start of deallocation (when the last reference drops)
// and checked again by anyone trying to acquire a new one. Bucket's
// iteration idiom is grounded on the teacher's fs.BlkList_t
// (biscuit/src/fs/blk.go), a container/list wrapper used there to batch
// disk blocks; here it batches pager handles instead.
package pagerfw

import (
	"container/list"
	"sync"
)

// Prot is a bitmask of protections a mapping may request or a pager may
// grant, mirroring the kernel's read/write/execute bits (spec §4.5
// "max_prot").
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExecute

	ProtAll = ProtRead | ProtWrite | ProtExecute
)

// Kind distinguishes the one disk pager from the many file-data pagers a
// bucket holds.
type Kind int

const (
	FileData Kind = iota
	Disk
)

// Handle is this repo's stand-in for a Mach send right: a reference-
// counted pointer to a pager, held by the bucket and by every caller of
// get_filemap. UserInfo carries whatever the owning registry needs to
// find its way back to the node (or nil, for the disk pager).
type Handle struct {
	mu       sync.Mutex
	refs     int
	alive    bool
	caching  bool
	kind     Kind
	maxProt  Prot
	userInfo interface{}
	onZero   func(*Handle)
}

// NewHandle creates a handle holding one strong reference (the creation
// reference), with caching enabled. onZero, if non-nil, runs once — after
// the handle's mutex is released — when the last reference is dropped
// (spec §4.5 "clear_user_data").
func NewHandle(kind Kind, userInfo interface{}, onZero func(*Handle)) *Handle {
	return &Handle{
		refs:     1,
		alive:    true,
		caching:  true,
		kind:     kind,
		userInfo: userInfo,
		onZero:   onZero,
	}
}

// Upgrade attempts to turn a weak (node→pager) reference into a new
// strong one, implementing inode.PagerHandle. It returns false if the
// pager is mid-deallocation; callers that see false must treat the
// node's cached pointer as stale and clear it (spec §4.5's retry loop).
// A true return hands back a reference the caller must eventually give
// up with Release.
func (h *Handle) Upgrade() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.alive {
		return false
	}
	h.refs++
	return true
}

// Release drops one reference. When the last reference is dropped, the
// handle is marked dead and, outside the lock, onZero runs (spec §4.5
// "runs after the last send right is gone").
func (h *Handle) Release() {
	h.mu.Lock()
	h.refs--
	if h.refs > 0 {
		h.mu.Unlock()
		return
	}
	h.alive = false
	h.mu.Unlock()
	if h.onZero != nil {
		h.onZero(h)
	}
}

// Shutdown force-kills the handle regardless of outstanding references,
// for the filesystem shutdown path (spec §4.5 "Shutdown"), which tears
// down every pager unconditionally rather than waiting for natural
// deallocation.
func (h *Handle) Shutdown() {
	h.mu.Lock()
	h.alive = false
	h.mu.Unlock()
}

// OrMaxProt ORs prot into the handle's accumulated max_prot.
func (h *Handle) OrMaxProt(prot Prot) {
	h.mu.Lock()
	h.maxProt |= prot
	h.mu.Unlock()
}

// MaxProt reports the handle's accumulated max_prot.
func (h *Handle) MaxProt() Prot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxProt
}

// SetCaching toggles the conceptual may_cache attribute used by the
// registry's cache-disable dance (spec §9). This shim has no real kernel
// cache to evict; the flag exists so tests can observe the dance ran.
func (h *Handle) SetCaching(enabled bool) {
	h.mu.Lock()
	h.caching = enabled
	h.mu.Unlock()
}

// Caching reports the current may_cache attribute.
func (h *Handle) Caching() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.caching
}

// Kind reports whether this is the disk pager or a file-data pager.
func (h *Handle) Kind() Kind {
	return h.kind
}

// UserInfo returns the opaque value passed to NewHandle.
func (h *Handle) UserInfo() interface{} {
	return h.userInfo
}

// Bucket is the process-wide registry of live pagers (spec's "pager
// bucket"): every Handle the registry has created, in insertion order.
type Bucket struct {
	mu        sync.Mutex
	l         *list.List
	accepting bool
}

// NewBucket creates an empty bucket, initially accepting new entries.
func NewBucket() *Bucket {
	return &Bucket{l: list.New(), accepting: true}
}

// Insert adds h to the bucket and returns a token Remove needs to take it
// back out. Insert succeeds even while the bucket is disabled — Disable
// only gates whether *new pagers* may be created elsewhere (spec §4.5's
// "pager_users" dance), not bucket bookkeeping of existing ones.
func (b *Bucket) Insert(h *Handle) *list.Element {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.l.PushBack(h)
}

// Remove takes e back out of the bucket.
func (b *Bucket) Remove(e *list.Element) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.l.Remove(e)
}

// Iterate calls fn for every handle currently in the bucket, stopping
// early if fn returns false. fn must not call back into the bucket.
func (b *Bucket) Iterate(fn func(*Handle) bool) {
	b.mu.Lock()
	handles := make([]*Handle, 0, b.l.Len())
	for e := b.l.Front(); e != nil; e = e.Next() {
		handles = append(handles, e.Value.(*Handle))
	}
	b.mu.Unlock()

	for _, h := range handles {
		if !fn(h) {
			return
		}
	}
}

// Count reports how many handles the bucket currently holds.
func (b *Bucket) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.l.Len()
}

// Disable stops the bucket from accepting new pagers.
func (b *Bucket) Disable() {
	b.mu.Lock()
	b.accepting = false
	b.mu.Unlock()
}

// Enable resumes accepting new pagers.
func (b *Bucket) Enable() {
	b.mu.Lock()
	b.accepting = true
	b.mu.Unlock()
}

// Accepting reports whether the bucket currently accepts new pagers.
func (b *Bucket) Accepting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accepting
}
