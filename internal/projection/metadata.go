// Package projection holds the in-memory directory tree (the VFS) the
// Query API reads from: three indices, onFileComplete/onFileDelete
// mutation logic, and the stateless readers (readdir/getattr/read/exists/
// metadata/directories/files/getStats).
package projection

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jra3/metafs-projector/internal/rules"
)

// extensionFileType maps a file extension (without the dot, lower-cased)
// to the fileType hint spec.md §6 defines.
var extensionFileType = map[string]string{
	"mkv": "video", "mp4": "video", "avi": "video", "mov": "video",
	"wmv": "video", "flv": "video", "webm": "video", "m4v": "video",
	"srt": "subtitle", "ass": "subtitle", "ssa": "subtitle",
	"sub": "subtitle", "idx": "subtitle", "vtt": "subtitle",
	"torrent": "torrent",
}

// Metadata is the typed record the State Builder hands the Projection,
// per spec.md §9: known fields parsed out of the raw string property map,
// plus an Extras map so rules can still reference arbitrary properties the
// typed struct doesn't name explicitly.
type Metadata struct {
	FilePath  string
	FileName  string
	Extension string
	FileType  string
	Size      int64
	MTime     time.Time
	CTime     time.Time
	Extras    rules.PropertyMap
}

// BuildMetadata converts a file's raw property map into a typed Metadata
// record, per spec.md §4.5 onFileComplete step 1: parse the size and the
// timestamps, synthesize fileName/extension from filePath if absent, infer
// fileType from extension if absent. No boolean is parsed here; boolean
// properties stay raw strings in Extras.
func BuildMetadata(props rules.PropertyMap) Metadata {
	m := Metadata{Extras: props}

	m.FilePath, _ = props.Get("filePath")

	if fn, ok := props.Get("fileName"); ok {
		m.FileName = fn
	} else {
		m.FileName = path.Base(m.FilePath)
	}

	if ext, ok := props.Get("extension"); ok {
		m.Extension = ext
	} else {
		m.Extension = strings.TrimPrefix(path.Ext(m.FileName), ".")
	}

	if ft, ok := props.Get("fileType"); ok {
		m.FileType = ft
	} else if inferred, ok := extensionFileType[strings.ToLower(m.Extension)]; ok {
		m.FileType = inferred
	}

	m.Size = firstInt(props, "size", "fileSize", "sizeByte")
	m.MTime = firstTime(props, "mtime")
	m.CTime = firstTime(props, "ctime")

	return m
}

func firstInt(props rules.PropertyMap, keys ...string) int64 {
	for _, k := range keys {
		if v, ok := props.Get(k); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func firstTime(props rules.PropertyMap, key string) time.Time {
	v, ok := props.Get(key)
	if !ok {
		return time.Time{}
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// SourcePath resolves the upstream absolute location of a file, per
// spec.md §6: filesRoot + "/" + filePath when filePath is relative;
// prepend filesRoot if filePath is absolute but not already under it.
func SourcePath(filesRoot, filePath string) string {
	if filePath == "" {
		return filesRoot
	}
	if strings.HasPrefix(filePath, filesRoot) {
		return filePath
	}
	if path.IsAbs(filePath) {
		return path.Join(filesRoot, filePath)
	}
	return path.Join(filesRoot, filePath)
}

// WebDAVURL computes the optional external share URL by URL-encoding each
// path segment below filesRoot and appending it to shareBase. Returns ""
// if shareBase is not configured.
func WebDAVURL(shareBase, relativePath string) string {
	if shareBase == "" {
		return ""
	}
	segments := strings.Split(strings.TrimPrefix(relativePath, "/"), "/")
	for i, s := range segments {
		segments[i] = urlEncodeSegment(s)
	}
	return strings.TrimRight(shareBase, "/") + "/" + strings.Join(segments, "/")
}

func urlEncodeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.', r == '~':
			b.WriteRune(r)
		default:
			b.WriteString(percentEncode(r))
		}
	}
	return b.String()
}

func percentEncode(r rune) string {
	const hex = "0123456789ABCDEF"
	var out strings.Builder
	buf := []byte(string(r))
	for _, c := range buf {
		out.WriteByte('%')
		out.WriteByte(hex[c>>4])
		out.WriteByte(hex[c&0x0f])
	}
	return out.String()
}
