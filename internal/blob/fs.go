package blob

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DefaultFilesystemRoot is used when no root directory is configured.
const DefaultFilesystemRoot = "blobdata"

// Filesystem keeps object bytes under <root>/objects and a JSON record per
// object under <root>/meta, mirroring the key path in both trees.
type Filesystem struct {
	root string
}

type fsRecord struct {
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SHA256      string            `json:"sha256"`
	Size        int64             `json:"size"`
	Stored      time.Time         `json:"stored"`
}

func (r fsRecord) info(key string) Info {
	return Info{
		Key:          key,
		Size:         r.Size,
		ContentType:  r.ContentType,
		ETag:         r.SHA256,
		Metadata:     cloneMetadata(r.Metadata),
		LastModified: r.Stored,
	}
}

// NewFilesystem prepares root (default DefaultFilesystemRoot) for use.
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = DefaultFilesystemRoot
	}
	for _, dir := range []string{"objects", "meta", "tmp"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o750); err != nil {
			return nil, fmt.Errorf("blob fs: %w", err)
		}
	}
	return &Filesystem{root: root}, nil
}

// Driver implements Store.
func (f *Filesystem) Driver() Driver { return DriverFilesystem }

// Root returns the base directory.
func (f *Filesystem) Root() string { return f.root }

// validKey rejects keys that would escape the root or name a directory.
func validKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("blob fs: invalid key %q", key)
	}
	clean := path.Clean(key)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(key, "..") {
		return "", fmt.Errorf("blob fs: invalid key %q", key)
	}
	return clean, nil
}

func (f *Filesystem) objectPath(key string) string {
	return filepath.Join(f.root, "objects", filepath.FromSlash(key))
}

func (f *Filesystem) recordPath(key string) string {
	return filepath.Join(f.root, "meta", filepath.FromSlash(key)+".json")
}

// Put implements Store. Bytes land in tmp first and are renamed into
// objects once complete, so readers never see a partial object.
func (f *Filesystem) Put(_ context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	key, err := validKey(key)
	if err != nil {
		return Info{}, err
	}
	target := f.objectPath(key)
	if _, err := os.Stat(target); err == nil {
		return Info{}, fmt.Errorf("%s: %w", key, ErrExists)
	}
	tmp, err := os.CreateTemp(filepath.Join(f.root, "tmp"), "put-*")
	if err != nil {
		return Info{}, fmt.Errorf("blob fs: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	sum := sha256.New()
	size, copyErr := io.Copy(io.MultiWriter(tmp, sum), r)
	if err := errors.Join(copyErr, tmp.Close()); err != nil {
		return Info{}, fmt.Errorf("blob fs: write %s: %w", key, err)
	}
	rec := fsRecord{
		ContentType: opts.ContentType,
		Metadata:    cloneMetadata(opts.Metadata),
		SHA256:      fmt.Sprintf("%x", sum.Sum(nil)),
		Size:        size,
		Stored:      time.Now().UTC(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return Info{}, err
	}
	for _, p := range []string{target, f.recordPath(key)} {
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return Info{}, fmt.Errorf("blob fs: %w", err)
		}
	}
	if err := os.WriteFile(f.recordPath(key), raw, 0o640); err != nil {
		return Info{}, fmt.Errorf("blob fs: record %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(f.recordPath(key))
		return Info{}, fmt.Errorf("blob fs: commit %s: %w", key, err)
	}
	return rec.info(key), nil
}

func (f *Filesystem) readRecord(key string) (fsRecord, error) {
	raw, err := os.ReadFile(f.recordPath(key))
	if errors.Is(err, iofs.ErrNotExist) {
		return fsRecord{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fsRecord{}, fmt.Errorf("blob fs: %w", err)
	}
	var rec fsRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fsRecord{}, fmt.Errorf("blob fs: decode record %s: %w", key, err)
	}
	return rec, nil
}

// Head implements Store.
func (f *Filesystem) Head(_ context.Context, key string) (Info, error) {
	key, err := validKey(key)
	if err != nil {
		return Info{}, err
	}
	rec, err := f.readRecord(key)
	if err != nil {
		return Info{}, err
	}
	if _, err := os.Stat(f.objectPath(key)); errors.Is(err, iofs.ErrNotExist) {
		return Info{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return rec.info(key), nil
}

// Get implements Store.
func (f *Filesystem) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	info, err := f.Head(ctx, key)
	if err != nil {
		return Info{}, nil, err
	}
	file, err := os.Open(f.objectPath(info.Key))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return Info{}, nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return Info{}, nil, fmt.Errorf("blob fs: %w", err)
	}
	return info, file, nil
}

// Delete implements Store.
func (f *Filesystem) Delete(_ context.Context, key string) (bool, error) {
	key, err := validKey(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(f.objectPath(key))
	if errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blob fs: %w", err)
	}
	if err := os.Remove(f.recordPath(key)); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return true, fmt.Errorf("blob fs: %w", err)
	}
	return true, nil
}

// List implements Store by walking the record tree.
func (f *Filesystem) List(_ context.Context, prefix string) ([]Info, error) {
	metaRoot := filepath.Join(f.root, "meta")
	var out []Info
	err := filepath.WalkDir(metaRoot, func(p string, d iofs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".json") {
			return err
		}
		rel, err := filepath.Rel(metaRoot, strings.TrimSuffix(p, ".json"))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		rec, err := f.readRecord(key)
		if err != nil {
			return err
		}
		out = append(out, rec.info(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}
