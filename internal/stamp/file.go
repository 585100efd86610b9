// File: internal/stamp/file.go
// Brief: File observation (existence, mtime+size, content hash).

package stamp

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/cespare/xxhash/v2"
)

// FileInfo is what an observation of a path remembers for the next one.
type FileInfo struct {
	Exists      bool
	ModTime     int64 // unix nanoseconds
	Size        int64
	ContentHash uint64
	Racy        bool
}

func (fi FileInfo) sameShape(other FileInfo) bool {
	return fi.Exists == other.Exists && fi.ModTime == other.ModTime && fi.Size == other.Size
}

// Observe stats path and returns its FileInfo and stamp. prev and prevStamp
// come from the previous observation of the same path (zero values when there
// is none); an unchanged file keeps prevStamp so dependents stay up-to-date.
// A missing file yields Exists=false and None without an error.
func (p Policy) Observe(path string, prev FileInfo, prevStamp Stamp) (FileInfo, Stamp, error) {
	observedAt := p.now()
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileInfo{}, None, nil
		}
		return FileInfo{}, None, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		return FileInfo{}, None, fmt.Errorf("stat %s: is a directory", path)
	}
	info := FileInfo{
		Exists:  true,
		ModTime: st.ModTime().UnixNano(),
		Size:    st.Size(),
	}

	if p.Mode == ModeContent {
		sum, err := HashFile(path)
		if err != nil {
			return FileInfo{}, None, err
		}
		info.ContentHash = sum
		h := NewHasher("fbuild.file-content.v1")
		h.WriteUint64(sum)
		return info, h.Sum(), nil
	}

	unchanged := prevStamp != None && info.sameShape(prev)
	racy := p.IsRacy(st.ModTime(), observedAt)
	if unchanged && !prev.Racy && !racy {
		info.ContentHash = prev.ContentHash
		return info, prevStamp, nil
	}

	needHash := racy || (unchanged && prev.Racy)
	if needHash {
		sum, err := HashFile(path)
		if err != nil {
			return FileInfo{}, None, err
		}
		info.ContentHash = sum
		info.Racy = racy
		if unchanged && sum == prev.ContentHash {
			return info, prevStamp, nil
		}
	}

	h := NewHasher("fbuild.file-time.v1")
	h.WriteInt64(info.ModTime)
	h.WriteInt64(info.Size)
	if racy {
		h.WriteUint64(info.ContentHash)
	}
	return info, h.Sum(), nil
}

// HashFile returns the xxhash of the file's contents.
func HashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return d.Sum64(), nil
}
