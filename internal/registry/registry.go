// Package registry implements the pager registry and lifecycle (spec
// §4.5, C5): per-node pager creation (get_filemap), the clear_user_data
// deallocation hook, sync/flush of one node or the whole filesystem,
// shutdown, and the pager_users/max_user_pager_prot cache-disable dance.
//
// It is modeled as an explicit "filesystem instance" value (spec §9,
// "Global mutable state") rather than ambient package-level statics, so
// multiple Registry values can run in parallel tests — grounded on the
// teacher's ufs.Fs_t (biscuit/src/ufs/ufs.go), which bundles the live
// filesystem's state (superblock, free block cache, log) behind one
// struct instead of globals.
package registry

import (
	"container/list"
	"sync"
	"time"

	"ext2pager/internal/blockmap"
	"ext2pager/internal/device"
	"ext2pager/internal/diskpager"
	"ext2pager/internal/ext2err"
	"ext2pager/internal/filepager"
	"ext2pager/internal/inode"
	"ext2pager/internal/pagerfw"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultCacheDisableWait is the default quiescence wait used by the
// pager_users/max_user_pager_prot cache-disable dance (spec §9, "keep the
// sleep as a tunable with a sane default").
const DefaultCacheDisableWait = time.Second

// Registry is one filesystem instance's pager lifecycle: the bucket of
// live pagers, the per-node pager map (held in each node's own Pager
// field, guarded by mu standing in for the process-wide node→pager
// spinlock), and the disk pager.
type Registry struct {
	mu sync.Mutex

	dev    device.Device
	files  *filepager.Engine
	blocks *blockmap.BlockMap

	bucket     *pagerfw.Bucket
	diskEngine *diskpager.Engine
	diskHandle *pagerfw.Handle

	cacheDisableWait time.Duration
	frozenSuperblock []byte
	log              *logrus.Entry
}

// New creates a registry over dev, using files for per-node paging and
// blocks for block-map resolution. A zero cacheDisableWait selects
// DefaultCacheDisableWait; a nil log defaults to the standard logger.
func New(dev device.Device, files *filepager.Engine, blocks *blockmap.BlockMap, cacheDisableWait time.Duration, log *logrus.Entry) *Registry {
	if cacheDisableWait == 0 {
		cacheDisableWait = DefaultCacheDisableWait
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		dev:              dev,
		files:            files,
		blocks:           blocks,
		bucket:           pagerfw.NewBucket(),
		cacheDisableWait: cacheDisableWait,
		log:              log.WithField("component", "registry"),
	}
}

// CreateDiskPager installs the raw-device pager, called once at startup
// (spec §6 "create_disk_pager"). bitmap may be nil to select unconditional
// pageout mode.
func (r *Registry) CreateDiskPager(blockSize, pageSize int, bitmap *diskpager.ModifiedBitmap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diskEngine = diskpager.New(r.dev, blockSize, pageSize, bitmap)
	r.diskHandle = pagerfw.NewHandle(pagerfw.Disk, nil, nil)
	r.bucket.Insert(r.diskHandle)
}

// DiskPager returns the disk-pager engine installed by CreateDiskPager,
// or nil if none has been installed yet.
func (r *Registry) DiskPager() *diskpager.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diskEngine
}

// GetFilemap returns a handle to node's file-data pager, creating one on
// first use, and ORs prot into its accumulated max_prot (spec §4.5).
// Concurrent callers requesting different protections on the same node
// share one pager and converge on the union of requested protections.
func (r *Registry) GetFilemap(node *inode.Node, prot pagerfw.Prot) (*pagerfw.Handle, error) {
	for {
		r.mu.Lock()
		if node.Pager != nil {
			h, ok := node.Pager.(*pagerfw.Handle)
			if !ok {
				r.mu.Unlock()
				return nil, errors.New("registry: node.Pager has unexpected type")
			}
			if h.Upgrade() {
				h.OrMaxProt(prot)
				r.mu.Unlock()
				return h, nil
			}
			// The hint pointed at a pager mid-deallocation whose entry
			// hasn't been reaped yet; clear it and retry (spec §9 "weak
			// back-reference").
			node.Pager = nil
			r.mu.Unlock()
			continue
		}

		// Sharing an existing pager is always allowed; only the creation
		// of a brand-new one is gated while the bucket is disabled for the
		// pager_users/max_user_pager_prot quiescence dance (spec §4.5).
		if !r.bucket.Accepting() {
			r.mu.Unlock()
			return nil, ext2err.ErrPagerDisabled
		}

		var elem *list.Element
		h := pagerfw.NewHandle(pagerfw.FileData, node, func(h *pagerfw.Handle) {
			r.clearUserData(node, h)
			r.bucket.Remove(elem)
		})
		h.OrMaxProt(prot)
		node.Pager = h
		elem = r.bucket.Insert(h)
		r.mu.Unlock()
		return h, nil
	}
}

// clearUserData is the deallocation hook run after a file-data pager's
// last reference drops (spec §4.5 "clear_user_data"); the hook installed by
// GetFilemap then removes the handle from the bucket.
func (r *Registry) clearUserData(node *inode.Node, h *pagerfw.Handle) {
	r.mu.Lock()
	if ph, ok := node.Pager.(*pagerfw.Handle); ok && ph == h {
		node.Pager = nil
	}
	r.mu.Unlock()
	// The teacher's light-node-reference release has no analogue here:
	// Go's GC reclaims the node once nothing else refers to it.
}

// ReadPage dispatches a pagein through h to whichever engine backs it —
// the disk pager (C3) or a file's block map (C4) — keyed on h.Kind() (spec
// §2 "the registry dispatches to C3 or C4"; SPEC_FULL.md §4.7: the shim
// itself carries no read_page/write_page logic of its own).
func (r *Registry) ReadPage(h *pagerfw.Handle, pageOffset int64) (data []byte, writable bool, err error) {
	if h.Kind() == pagerfw.Disk {
		return r.diskEngine.Pagein(pageOffset)
	}
	node, ok := h.UserInfo().(*inode.Node)
	if !ok {
		return nil, false, errors.New("registry: file-data handle missing its node")
	}
	return r.files.Pagein(node, pageOffset)
}

// WritePage dispatches a pageout through h the same way ReadPage does.
func (r *Registry) WritePage(h *pagerfw.Handle, pageOffset int64, data []byte) error {
	if h.Kind() == pagerfw.Disk {
		return r.diskEngine.Pageout(pageOffset, data)
	}
	node, ok := h.UserInfo().(*inode.Node)
	if !ok {
		return errors.New("registry: file-data handle missing its node")
	}
	return r.files.Pageout(node, pageOffset, data)
}

// UnlockPage dispatches a make-writable request through h. The disk pager
// never asks the kernel to make its pages writable (spec §4.3: Pagein
// always reports writable == false), so there is nothing for it to unlock.
func (r *Registry) UnlockPage(h *pagerfw.Handle, pageOffset int64) error {
	if h.Kind() == pagerfw.Disk {
		return errors.New("registry: disk pager pages are never unlocked")
	}
	node, ok := h.UserInfo().(*inode.Node)
	if !ok {
		return errors.New("registry: file-data handle missing its node")
	}
	return r.files.Unlock(node, pageOffset)
}

// Grow forwards a file-growth request to the file-pager engine (spec §6
// "grow(node, new_size)").
func (r *Registry) Grow(node *inode.Node, newSize int64) error {
	return r.files.Grow(node, newSize)
}

// FileUpdate syncs one node: if a pager is attached, takes a strong
// reference so it can't be torn down mid-sync, then drains its dirty
// indirect-block queue (spec §4.5 "Sync/flush on a node"). The
// block map writes indirect blocks through as it allocates them, so by
// the time FileUpdate runs there is nothing left to flush but the queue
// itself — draining it here exists for parity with the source protocol
// and as a hook for a future deferred-write block map.
func (r *Registry) FileUpdate(node *inode.Node, wait bool) error {
	r.mu.Lock()
	var h *pagerfw.Handle
	if ph, ok := node.Pager.(*pagerfw.Handle); ok && ph.Upgrade() {
		h = ph
	}
	r.mu.Unlock()
	if h != nil {
		defer h.Release()
	}

	node.AllocLock.RLock()
	node.IndirPokel.Drain()
	node.AllocLock.RUnlock()
	return nil
}

// FlushNodePager discards cached pages for a node (spec §6
// "flush_node_pager"). This shim holds no in-process page cache of its
// own (pages live in the kernel, external to this core), so flushing
// reduces to syncing the node's outstanding metadata.
func (r *Registry) FlushNodePager(node *inode.Node) error {
	return r.FileUpdate(node, true)
}

// liveFileNodes returns every node with a live file-data pager in the
// bucket.
func (r *Registry) liveFileNodes() []*inode.Node {
	var nodes []*inode.Node
	r.bucket.Iterate(func(h *pagerfw.Handle) bool {
		if h.Kind() == pagerfw.Disk {
			return true
		}
		if n, ok := h.UserInfo().(*inode.Node); ok {
			nodes = append(nodes, n)
		}
		return true
	})
	return nodes
}

// SyncEverything runs FileUpdate on the node of every live file-data pager
// in the bucket (spec §4.5 "Sync-all"). It does not write inodes, and it
// does not touch the disk pager or any queue other than the per-node ones.
func (r *Registry) SyncEverything(wait bool) error {
	for _, n := range r.liveFileNodes() {
		if err := r.FileUpdate(n, wait); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown tears the filesystem instance down (spec §4.5 "Shutdown"):
// runs SyncEverything, freezes the disk pager's superblock page into
// memory (later sync/close paths may still read it after the disk pager
// itself is gone), shuts down every non-disk pager, then the disk pager.
func (r *Registry) Shutdown(superblockBlock, superblockSize int64) error {
	r.log.WithField("pagers", r.bucket.Count()).Info("shutting down filesystem instance")
	if err := r.SyncEverything(true); err != nil {
		return err
	}

	r.mu.Lock()
	if r.diskEngine != nil {
		sb := make([]byte, superblockSize)
		if err := r.dev.ReadAt(superblockBlock, sb); err != nil {
			r.mu.Unlock()
			return errors.Wrap(ext2err.ErrDeviceIO, "registry: shutdown: freeze superblock")
		}
		r.frozenSuperblock = sb
	}
	r.mu.Unlock()

	r.bucket.Iterate(func(h *pagerfw.Handle) bool {
		if h.Kind() != pagerfw.Disk {
			h.Shutdown()
		}
		return true
	})
	if r.diskHandle != nil {
		r.diskHandle.Shutdown()
	}
	return nil
}

// FrozenSuperblock returns the superblock snapshot captured by Shutdown,
// or nil if Shutdown has not run.
func (r *Registry) FrozenSuperblock() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozenSuperblock
}

// PagerUsers reports whether any non-disk pager is in use (spec §4.5
// "User-count gate"). It runs the cache-disable-wait-recount dance to
// flush phantom pagers the kernel has not yet torn down before deciding.
func (r *Registry) PagerUsers() int {
	if r.bucket.Count() <= 1 {
		return 0
	}

	r.bucket.Disable()
	defer r.bucket.Enable()
	r.bucket.Iterate(func(h *pagerfw.Handle) bool {
		h.SetCaching(false)
		return true
	})
	time.Sleep(r.cacheDisableWait)

	if r.bucket.Count() <= 1 {
		return 0
	}
	r.bucket.Iterate(func(h *pagerfw.Handle) bool {
		h.SetCaching(true)
		return true
	})
	return 1
}

// MaxUserPagerProt aggregates max_prot across every file-data pager (spec
// §4.5 "Aggregate max-prot"), short-circuiting once every protection bit
// is set, and running the same cache-disable dance first to evict phantom
// pagers.
func (r *Registry) MaxUserPagerProt() pagerfw.Prot {
	r.bucket.Disable()
	defer r.bucket.Enable()
	r.bucket.Iterate(func(h *pagerfw.Handle) bool {
		h.SetCaching(false)
		return true
	})
	time.Sleep(r.cacheDisableWait)

	var agg pagerfw.Prot
	r.bucket.Iterate(func(h *pagerfw.Handle) bool {
		if h.Kind() == pagerfw.Disk {
			return true
		}
		agg |= h.MaxProt()
		return agg != pagerfw.ProtAll
	})
	r.bucket.Iterate(func(h *pagerfw.Handle) bool {
		h.SetCaching(true)
		return true
	})
	return agg
}

// BucketCount reports how many pagers (including the disk pager, if
// installed) the registry currently tracks. Exposed for cmd/ext2paged's
// stats surface.
func (r *Registry) BucketCount() int {
	return r.bucket.Count()
}
