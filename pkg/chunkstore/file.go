package chunkstore

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FileChunkStore is a durable, refcount-in-filename on-disk store (C2).
// Each chunk is a file named "<hex(id)>.<refcount>" placed under a
// shard directory derived from the id's hex prefix.
type FileChunkStore struct {
	mu       sync.RWMutex
	root     string
	hash     HashFunc
	shardLen int // hex chars consumed per shard level
	shardDep int // number of shard levels
	capacity uint64
	size     uint64
}

// FileChunkStoreOption configures a FileChunkStore at construction.
type FileChunkStoreOption func(*FileChunkStore)

// WithShards sets the directory-sharding depth and the number of hex
// characters of the id consumed at each level.
func WithShards(depth, charsPerLevel int) FileChunkStoreOption {
	return func(f *FileChunkStore) {
		f.shardDep = depth
		f.shardLen = charsPerLevel
	}
}

// NewFileChunkStore opens (creating if necessary) a file-backed chunk
// store rooted at dir, and rebuilds its (count, size) summary by scanning
// the directory tree.
func NewFileChunkStore(dir string, capacity uint64, opts ...FileChunkStoreOption) (*FileChunkStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errIO("NewFileChunkStore", err)
	}
	f := &FileChunkStore{
		root:     dir,
		hash:     defaultHash,
		shardDep: 2,
		shardLen: 2,
		capacity: capacity,
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.rebuildSummary(); err != nil {
		return nil, err
	}
	return f, nil
}

// RestoreSummary overrides the scanned total size with a value persisted
// externally (see pkg/storage). It does not touch the refcount index, and
// it does not avoid the directory walk: NewFileChunkStore has already
// scanned by the time it can be called. Callers are responsible for
// verifying the persisted value is still trustworthy (e.g. the root
// directory's mtime has not advanced since).
func (f *FileChunkStore) RestoreSummary(size uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.size = size
}

func (f *FileChunkStore) rebuildSummary() error {
	var total uint64
	err := filepath.Walk(f.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		total += uint64(info.Size())
		return nil
	})
	if err != nil {
		return errIO("FileChunkStore.rebuildSummary", err)
	}
	f.mu.Lock()
	f.size = total
	f.mu.Unlock()
	return nil
}

func (f *FileChunkStore) shardDir(idHex string) string {
	parts := make([]string, 0, f.shardDep)
	for i := 0; i < f.shardDep; i++ {
		start := i * f.shardLen
		end := start + f.shardLen
		if start >= len(idHex) {
			break
		}
		if end > len(idHex) {
			end = len(idHex)
		}
		parts = append(parts, idHex[start:end])
	}
	return filepath.Join(append([]string{f.root}, parts...)...)
}

// findFile locates the on-disk file for id, returning its full path and
// current refcount. ok is false if no file exists for id.
func (f *FileChunkStore) findFile(idHex string) (path string, refs uint64, ok bool) {
	dir := f.shardDir(idHex)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, false
	}
	prefix := idHex + "."
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix) {
			n, err := strconv.ParseUint(name[len(prefix):], 10, 64)
			if err != nil {
				continue
			}
			return filepath.Join(dir, name), n, true
		}
	}
	return "", 0, false
}

func (f *FileChunkStore) Store(id, data []byte) error {
	if len(id) == 0 || len(data) == 0 {
		return errInvalidArgument("FileChunkStore.Store", "empty id or empty content")
	}
	idHex := hex.EncodeToString(id)
	f.mu.Lock()
	defer f.mu.Unlock()

	path, refs, ok := f.findFile(idHex)
	if ok {
		newPath := f.namedPath(idHex, refs+1)
		if err := os.Rename(path, newPath); err != nil {
			return errIO("FileChunkStore.Store", err)
		}
		return nil
	}
	if f.capacity != 0 && f.size+uint64(len(data)) > f.capacity {
		return errOutOfCapacity("FileChunkStore.Store")
	}
	dir := f.shardDir(idHex)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errIO("FileChunkStore.Store", err)
	}
	target := f.namedPath(idHex, 1)
	if err := writeFileAtomic(dir, target, data); err != nil {
		return errIO("FileChunkStore.Store", err)
	}
	f.size += uint64(len(data))
	return nil
}

// Bump increments the on-disk refcount of an id already present, without
// requiring the caller to supply its data. It exists for reinstatement
// paths (BufferedChunkStore.PermanentStore) where the chunk's bytes may
// not be in hand. Returns errNotFound if id has no file on disk.
func (f *FileChunkStore) Bump(id []byte) error {
	idHex := hex.EncodeToString(id)
	f.mu.Lock()
	defer f.mu.Unlock()

	path, refs, ok := f.findFile(idHex)
	if !ok {
		return errNotFound("FileChunkStore.Bump", id)
	}
	newPath := f.namedPath(idHex, refs+1)
	if err := os.Rename(path, newPath); err != nil {
		return errIO("FileChunkStore.Bump", err)
	}
	return nil
}

// acceptOne implements acceptTransfer for MoveTo.
func (f *FileChunkStore) acceptOne(id, data []byte) error {
	return f.Store(id, data)
}

func (f *FileChunkStore) namedPath(idHex string, refs uint64) string {
	return filepath.Join(f.shardDir(idHex), fmt.Sprintf("%s.%d", idHex, refs))
}

func writeFileAtomic(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, target)
}

func (f *FileChunkStore) Get(id []byte) ([]byte, bool) {
	idHex := hex.EncodeToString(id)
	f.mu.RLock()
	path, _, ok := f.findFile(idHex)
	f.mu.RUnlock()
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (f *FileChunkStore) Delete(id []byte) error {
	idHex := hex.EncodeToString(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	path, refs, ok := f.findFile(idHex)
	if !ok {
		return nil // idempotent
	}
	if refs > 1 {
		newPath := f.namedPath(idHex, refs-1)
		if err := os.Rename(path, newPath); err != nil {
			return errIO("FileChunkStore.Delete", err)
		}
		return nil
	}
	info, err := os.Stat(path)
	if err == nil {
		f.size -= uint64(info.Size())
	}
	if err := os.Remove(path); err != nil {
		return errIO("FileChunkStore.Delete", err)
	}
	return nil
}

func (f *FileChunkStore) Modify(id, newData []byte) error {
	idHex := hex.EncodeToString(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	path, refs, ok := f.findFile(idHex)
	if !ok {
		return errNotFound("FileChunkStore.Modify", id)
	}
	oldData, err := os.ReadFile(path)
	if err != nil {
		return errIO("FileChunkStore.Modify", err)
	}
	hashNamed := isHashNamed(f.hash, id, oldData)
	if hashNamed && !isHashNamed(f.hash, id, newData) {
		return errImmutable("FileChunkStore.Modify", id)
	}
	delta := int64(len(newData)) - int64(len(oldData))
	if delta > 0 && f.capacity != 0 && f.size+uint64(delta) > f.capacity {
		return errOutOfCapacity("FileChunkStore.Modify")
	}
	dir := f.shardDir(idHex)
	target := f.namedPath(idHex, refs)
	if err := writeFileAtomic(dir, target, newData); err != nil {
		return errIO("FileChunkStore.Modify", err)
	}
	f.size = uint64(int64(f.size) + delta)
	return nil
}

// MoveTo transfers one reference of id to other. When other is also a
// FileChunkStore and the id is not yet present there, the bytes are moved
// with a single rename instead of a copy whenever this store is left
// holding no remaining reference; when other already holds the id, its
// count is bumped by a rename and no bytes are written, while this
// store's file is renamed down or removed with its last reference. Any
// other case falls back to a read-then-write, which is still
// rename-atomic per file.
func (f *FileChunkStore) MoveTo(id []byte, other Store) error {
	of, ok := other.(*FileChunkStore)
	if !ok || of == f {
		return moveTo(f, id, other, func() error { return f.Delete(id) })
	}

	idHex := hex.EncodeToString(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	path, refs, found := f.findFile(idHex)
	if !found {
		return errNotFound("FileChunkStore.MoveTo", id)
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		return errIO("FileChunkStore.MoveTo", statErr)
	}
	size := uint64(info.Size())

	of.mu.Lock()
	defer of.mu.Unlock()
	_, destRefs, destFound := of.findFile(idHex)

	if !destFound {
		if of.capacity != 0 && of.size+size > of.capacity {
			return errOutOfCapacity("FileChunkStore.MoveTo")
		}
		destDir := of.shardDir(idHex)
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return errIO("FileChunkStore.MoveTo", err)
		}
		if refs == 1 {
			if err := os.Rename(path, of.namedPath(idHex, 1)); err != nil {
				return errIO("FileChunkStore.MoveTo", err)
			}
		} else {
			data, rerr := os.ReadFile(path)
			if rerr != nil {
				return errIO("FileChunkStore.MoveTo", rerr)
			}
			if err := writeFileAtomic(destDir, of.namedPath(idHex, 1), data); err != nil {
				return errIO("FileChunkStore.MoveTo", err)
			}
			if err := os.Rename(path, f.namedPath(idHex, refs-1)); err != nil {
				return errIO("FileChunkStore.MoveTo", err)
			}
		}
		of.size += size
		if refs == 1 {
			f.size -= size
		}
		return nil
	}

	// Destination already holds the id: bump its count, no bytes needed.
	if err := os.Rename(of.namedPath(idHex, destRefs), of.namedPath(idHex, destRefs+1)); err != nil {
		return errIO("FileChunkStore.MoveTo", err)
	}
	if refs == 1 {
		if err := os.Remove(path); err != nil {
			return errIO("FileChunkStore.MoveTo", err)
		}
		f.size -= size
	} else {
		if err := os.Rename(path, f.namedPath(idHex, refs-1)); err != nil {
			return errIO("FileChunkStore.MoveTo", err)
		}
	}
	return nil
}

func (f *FileChunkStore) Has(id []byte) bool {
	idHex := hex.EncodeToString(id)
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, _, ok := f.findFile(idHex)
	return ok
}

func (f *FileChunkStore) Count() uint64 {
	var total uint64
	f.mu.RLock()
	defer f.mu.RUnlock()
	_ = filepath.Walk(f.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		idx := strings.LastIndex(info.Name(), ".")
		if idx < 0 {
			return nil
		}
		n, perr := strconv.ParseUint(info.Name()[idx+1:], 10, 64)
		if perr == nil {
			total += n
		}
		return nil
	})
	return total
}

func (f *FileChunkStore) CountOf(id []byte) uint64 {
	idHex := hex.EncodeToString(id)
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, refs, ok := f.findFile(idHex)
	if !ok {
		return 0
	}
	return refs
}

func (f *FileChunkStore) Size() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.size
}

func (f *FileChunkStore) SizeOf(id []byte) uint64 {
	idHex := hex.EncodeToString(id)
	f.mu.RLock()
	path, _, ok := f.findFile(idHex)
	f.mu.RUnlock()
	if !ok {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

func (f *FileChunkStore) Empty() bool {
	return f.Count() == 0
}

func (f *FileChunkStore) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.root)
	if err == nil {
		for _, e := range entries {
			_ = os.RemoveAll(filepath.Join(f.root, e.Name()))
		}
	}
	f.size = 0
}

func (f *FileChunkStore) Capacity() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.capacity
}

func (f *FileChunkStore) SetCapacity(c uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c != 0 && c < f.size {
		c = f.size
	}
	f.capacity = c
}

func (f *FileChunkStore) Vacant(n uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.capacity == 0 || f.size+n <= f.capacity
}

// sortedShardIDs walks the store root returning every chunk id currently
// present, in lexical path order. Used by BufferedChunkStore to enumerate
// the permanent layer without re-implementing the walk.
func (f *FileChunkStore) sortedShardIDs() []string {
	var ids []string
	f.mu.RLock()
	_ = filepath.Walk(f.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		idx := strings.LastIndex(info.Name(), ".")
		if idx > 0 {
			ids = append(ids, info.Name()[:idx])
		}
		return nil
	})
	f.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
