package projection

import (
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jra3/metafs-projector/internal/rules"
)

// Tree is the Projection: an in-memory directory tree plus the three
// indices spec.md §4.5 names. Exactly one task (the event-processing task)
// calls the mutating methods (OnFileComplete/OnFileDelete/PruneExcept);
// everything else is a concurrent reader taking a snapshot under the
// RWMutex, per spec.md §5.
type Tree struct {
	mu sync.RWMutex

	pathIndex   map[string]*Node
	fileIDIndex map[string]string // fileId -> absolute virtual path
	sourceIndex map[string]string // sourcePath -> absolute virtual path

	fileCount      int
	directoryCount int
	totalSize      int64
	lastRefresh    time.Time

	filesRoot string
	shareBase string
	evaluator *rules.Evaluator
}

// New creates an empty Projection rooted at "/".
func New(filesRoot, shareBase string, evaluator *rules.Evaluator) *Tree {
	t := &Tree{
		pathIndex:      make(map[string]*Node),
		fileIDIndex:    make(map[string]string),
		sourceIndex:    make(map[string]string),
		filesRoot:      filesRoot,
		shareBase:      shareBase,
		evaluator:      evaluator,
		directoryCount: 1,
	}
	t.pathIndex["/"] = &Node{Name: "", Kind: KindDir, Children: make(map[string]struct{})}
	return t
}

// SetEvaluator swaps the rule evaluator used by ComputeVirtualPath — called
// whenever the rule config changes, ahead of a refresh.
func (t *Tree) SetEvaluator(e *rules.Evaluator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evaluator = e
}

// ComputeVirtualPath implements spec.md §4.5:
// computeVirtualPath(metadata) = sanitize(resolveRules(metadata)).
func (t *Tree) ComputeVirtualPath(props rules.PropertyMap) rules.MatchResult {
	t.mu.RLock()
	ev := t.evaluator
	t.mu.RUnlock()
	return ev.Resolve(props)
}

// OnFileComplete implements spec.md §4.5's onFileComplete steps 1-7.
func (t *Tree) OnFileComplete(fileID string, props rules.PropertyMap) {
	metadata := BuildMetadata(props)
	result := t.ComputeVirtualPath(props)
	newPath := result.Path

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.fileIDIndex[fileID]; ok && existing == newPath {
		// In-place update: size/mtime/snapshot change, node identity doesn't.
		node := t.pathIndex[newPath]
		t.adjustTotalSize(-node.Metadata.Size)
		node.Metadata = metadata
		node.SourcePath = SourcePath(t.filesRoot, metadata.FilePath)
		t.sourceIndex[node.SourcePath] = newPath
		t.adjustTotalSize(metadata.Size)
		return
	}

	if existing, ok := t.fileIDIndex[fileID]; ok {
		t.removeNodeLocked(existing)
	}

	if collision, ok := t.pathIndex[newPath]; ok && collision.Kind == KindFile {
		// Different fileId occupying this path: last writer wins.
		t.removeNodeLocked(newPath)
	}

	t.ensureParentsLocked(newPath)

	sourcePath := SourcePath(t.filesRoot, metadata.FilePath)
	node := &Node{
		Name:       path.Base(newPath),
		Parent:     path.Dir(newPath),
		Kind:       KindFile,
		FileID:     fileID,
		SourcePath: sourcePath,
		Metadata:   metadata,
	}
	t.pathIndex[newPath] = node
	if parent := t.pathIndex[node.Parent]; parent != nil {
		parent.Children[node.Name] = struct{}{}
	}
	t.fileIDIndex[fileID] = newPath
	t.sourceIndex[sourcePath] = newPath
	t.fileCount++
	t.adjustTotalSize(metadata.Size)
}

// OnFileDelete implements spec.md §4.5's onFileDelete: remove the node,
// detach from its parent, then prune every ancestor directory left empty.
func (t *Tree) OnFileDelete(fileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.fileIDIndex[fileID]
	if !ok {
		return
	}
	t.removeNodeLocked(p)
}

// removeNodeLocked removes the file node at p, detaches it from its
// parent's children, updates all indices/counters, and walks upward
// pruning now-empty ancestor directories. Callers must hold t.mu.
func (t *Tree) removeNodeLocked(p string) {
	node, ok := t.pathIndex[p]
	if !ok || node.Kind != KindFile {
		return
	}

	delete(t.pathIndex, p)
	delete(t.fileIDIndex, node.FileID)
	delete(t.sourceIndex, node.SourcePath)
	t.fileCount--
	t.adjustTotalSize(-node.Metadata.Size)

	if parent := t.pathIndex[node.Parent]; parent != nil {
		delete(parent.Children, node.Name)
	}

	t.pruneEmptyAncestorsLocked(node.Parent)
}

// pruneEmptyAncestorsLocked walks upward from dirPath removing every
// ancestor directory whose children set is empty, stopping at root.
func (t *Tree) pruneEmptyAncestorsLocked(dirPath string) {
	for dirPath != "" && dirPath != "/" {
		dir, ok := t.pathIndex[dirPath]
		if !ok || len(dir.Children) > 0 {
			return
		}
		parentPath := path.Dir(dirPath)
		if parent := t.pathIndex[parentPath]; parent != nil {
			delete(parent.Children, dir.Name)
		}
		delete(t.pathIndex, dirPath)
		t.directoryCount--
		dirPath = parentPath
	}
}

// ensureParentsLocked creates every ancestor directory of filePath that
// doesn't already exist, linking each into its parent's children set.
func (t *Tree) ensureParentsLocked(filePath string) {
	dir := path.Dir(filePath)
	var toCreate []string
	for dir != "/" && dir != "." {
		if _, ok := t.pathIndex[dir]; ok {
			break
		}
		toCreate = append(toCreate, dir)
		dir = path.Dir(dir)
	}
	// Create from the shallowest missing ancestor down, so each new node's
	// parent already exists in pathIndex by the time we link it.
	for i := len(toCreate) - 1; i >= 0; i-- {
		d := toCreate[i]
		parentPath := path.Dir(d)
		node := &Node{Name: path.Base(d), Parent: parentPath, Kind: KindDir, Children: make(map[string]struct{})}
		t.pathIndex[d] = node
		if parent := t.pathIndex[parentPath]; parent != nil {
			parent.Children[node.Name] = struct{}{}
		}
		t.directoryCount++
	}
}

func (t *Tree) adjustTotalSize(delta int64) {
	t.totalSize += delta
}

// PruneExcept deletes every fileId currently in the projection that is not
// in seen — the tail end of spec.md §4.5's refresh semantics: only
// identities that truly disappeared during a full replay are removed.
func (t *Tree) PruneExcept(seen map[string]struct{}) {
	t.mu.Lock()
	var stale []string
	for fileID := range t.fileIDIndex {
		if _, ok := seen[fileID]; !ok {
			stale = append(stale, fileID)
		}
	}
	t.mu.Unlock()

	for _, fileID := range stale {
		t.OnFileDelete(fileID)
	}
}

// MarkRefreshed stamps lastRefresh, read by getStats.
func (t *Tree) MarkRefreshed(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRefresh = at
}

// --- Readers ---

// Readdir lists the children of a directory node in insertion order... in
// practice Go map iteration has no stable order, so this returns a sorted
// listing; spec.md §4.5 allows either ("insertion order unless the caller
// requests sort") and a stable, sorted default is the safer contract for a
// stateless HTTP API with no per-call ordering flag wired yet.
func (t *Tree) Readdir(p string) ([]string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.pathIndex[normalize(p)]
	if !ok || node.Kind != KindDir {
		return nil, false
	}
	names := make([]string, 0, len(node.Children))
	for name := range node.Children {
		names = append(names, name)
	}
	sortStrings(names)
	return names, true
}

// Attrs is the getattr response shape.
type Attrs struct {
	IsDir bool
	Size  int64
	Mode  uint32
	MTime time.Time
	CTime time.Time
	UID   uint32
	GID   uint32
	NLink uint32
}

// Getattr returns attrs for a path, honoring the configured file/dir mode
// and uid/gid (callers pass these in since the Tree itself is agnostic to
// the OS-level permission model).
func (t *Tree) Getattr(p string, fileMode, dirMode uint32, uid, gid uint32) (Attrs, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.pathIndex[normalize(p)]
	if !ok {
		return Attrs{}, false
	}
	if node.Kind == KindDir {
		return Attrs{IsDir: true, Mode: dirMode, UID: uid, GID: gid, NLink: 2}, true
	}
	return Attrs{
		Size:  node.Metadata.Size,
		Mode:  fileMode,
		MTime: node.Metadata.MTime,
		CTime: node.Metadata.CTime,
		UID:   uid,
		GID:   gid,
		NLink: 1,
	}, true
}

// Exists reports whether p is present (directory or file).
func (t *Tree) Exists(p string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.pathIndex[normalize(p)]
	return ok
}

// ReadResult is the response shape for spec.md §4.5's read() reader: the
// upstream source location and optional share URL, never file bytes.
type ReadResult struct {
	SourcePath string
	WebDAVURL  string
	Size       int64
}

func (t *Tree) Read(p string) (ReadResult, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node, ok := t.pathIndex[normalize(p)]
	if !ok || node.Kind != KindFile {
		return ReadResult{}, false
	}
	relative := strings.TrimPrefix(node.SourcePath, t.filesRoot)
	return ReadResult{
		SourcePath: node.SourcePath,
		WebDAVURL:  WebDAVURL(t.shareBase, relative),
		Size:       node.Metadata.Size,
	}, true
}

// GetMetadata returns the stored snapshot for a file path.
func (t *Tree) GetMetadata(p string) (Metadata, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.pathIndex[normalize(p)]
	if !ok || node.Kind != KindFile {
		return Metadata{}, false
	}
	return node.Metadata, true
}

// GetAllFiles returns every file's virtual path.
func (t *Tree) GetAllFiles() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, t.fileCount)
	for p, node := range t.pathIndex {
		if node.Kind == KindFile {
			out = append(out, p)
		}
	}
	sortStrings(out)
	return out
}

// GetAllDirectories returns every directory's virtual path.
func (t *Tree) GetAllDirectories() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, t.directoryCount)
	for p, node := range t.pathIndex {
		if node.Kind == KindDir {
			out = append(out, p)
		}
	}
	sortStrings(out)
	return out
}

// Stats is the counters exposed by /api/fuse/stats.
type Stats struct {
	FileCount      int
	DirectoryCount int
	TotalSize      int64
	LastRefresh    time.Time
}

func (t *Tree) GetStats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		FileCount:      t.fileCount,
		DirectoryCount: t.directoryCount,
		TotalSize:      t.totalSize,
		LastRefresh:    t.lastRefresh,
	}
}

// FileIDPath looks up the current virtual path for a fileId (used by
// refresh bookkeeping and tests).
func (t *Tree) FileIDPath(fileID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.fileIDIndex[fileID]
	return p, ok
}

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func sortStrings(ss []string) {
	// Small lists (directory children counts are realistically in the
	// hundreds at most); insertion sort keeps this dependency-free and
	// avoids importing sort for a handful of call sites.
	for i := 1; i < len(ss); i++ {
		j := i
		for j > 0 && ss[j-1] > ss[j] {
			ss[j-1], ss[j] = ss[j], ss[j-1]
			j--
		}
	}
}
