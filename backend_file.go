package cachemanager

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goforj/cachemanager/cachecore"
	"go.uber.org/zap"
)

var (
	createTempFile = os.CreateTemp
	renameFile     = os.Rename
)

var fileRecordMagic = []byte("CFR2")

const fileHeaderLen = 16

// FileOptions configure the File backend.
type FileOptions struct {
	CacheDir       string `option:"cache_dir"`
	FileNamePrefix string `option:"file_name_prefix"`
	CacheFilePerm  int    `option:"cache_file_perm"`
}

func (o FileOptions) withDefaults() FileOptions {
	if o.CacheDir == "" {
		o.CacheDir = filepath.Join(os.TempDir(), "cache-file")
	}
	if o.FileNamePrefix == "" {
		o.FileNamePrefix = "cache"
	}
	if o.CacheFilePerm <= 0 {
		o.CacheFilePerm = 0o600
	}
	return o
}

type fileMeta struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags,omitempty"`
}

type fileBackend struct {
	cachecore.Base
	opts FileOptions
}

// NewFileBackend returns a backend storing one file per entry under
// opts.CacheDir. The directory is created on first write.
func NewFileBackend(opts FileOptions) (Backend, error) {
	opts = opts.withDefaults()
	if info, err := os.Stat(opts.CacheDir); err == nil && !info.IsDir() {
		return nil, cachecore.NewConfigError(`backend "File"`, "cache_dir %q is not a directory", opts.CacheDir)
	}
	if strings.ContainsAny(opts.FileNamePrefix, `/\`) {
		return nil, cachecore.NewConfigError(`backend "File"`, "file_name_prefix %q must not contain path separators", opts.FileNamePrefix)
	}
	return &fileBackend{Base: cachecore.NewBase("File"), opts: opts}, nil
}

func newFileBackend(_ context.Context, opts Options) (Backend, error) {
	var cfg FileOptions
	if err := cachecore.DecodeOptions(`backend "File"`, opts, &cfg); err != nil {
		return nil, err
	}
	return NewFileBackend(cfg)
}

func (b *fileBackend) Capabilities() cachecore.Capabilities {
	return cachecore.Capabilities{Tags: true, AutomaticCleaning: true, Persistent: true}
}

func (b *fileBackend) Load(_ context.Context, id string) ([]byte, bool, error) {
	path := b.path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	expiresAt, _, value, err := decodeFileRecord(data)
	if err != nil {
		_ = os.Remove(path)
		return nil, false, err
	}
	if expired(expiresAt) {
		_ = os.Remove(path)
		return nil, false, nil
	}
	return value, true, nil
}

func (b *fileBackend) Save(_ context.Context, id string, data []byte, tags []string, lifetime time.Duration) error {
	if err := os.MkdirAll(b.opts.CacheDir, 0o755); err != nil {
		return err
	}
	var expiresAt int64
	if lifetime > 0 {
		expiresAt = time.Now().Add(lifetime).UnixNano()
	}
	meta, err := json.Marshal(fileMeta{ID: id, Tags: tags})
	if err != nil {
		return err
	}

	tmp, err := createTempFile(b.opts.CacheDir, "cache-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	var header [fileHeaderLen]byte
	copy(header[:4], fileRecordMagic)
	binary.BigEndian.PutUint64(header[4:12], uint64(expiresAt))
	binary.BigEndian.PutUint32(header[12:16], uint32(len(meta)))

	for _, chunk := range [][]byte{header[:], meta, data} {
		if _, err := tmp.Write(chunk); err != nil {
			tmp.Close()
			_ = os.Remove(tmpPath)
			return err
		}
	}
	if err := tmp.Chmod(os.FileMode(b.opts.CacheFilePerm)); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := renameFile(tmpPath, b.path(id)); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (b *fileBackend) Remove(_ context.Context, id string) error {
	if err := os.Remove(b.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *fileBackend) Clean(_ context.Context, mode CleaningMode, tags ...string) error {
	if err := b.CheckMode(mode); err != nil {
		return err
	}
	entries, err := os.ReadDir(b.opts.CacheDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	prefix := b.opts.FileNamePrefix + "--"
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		path := filepath.Join(b.opts.CacheDir, entry.Name())
		if mode == CleanAll {
			_ = os.Remove(path)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		expiresAt, meta, _, err := decodeFileRecord(data)
		if err != nil {
			b.Logger().Warn("File backend: removing unreadable entry", zap.String("path", path), zap.Error(err))
			_ = os.Remove(path)
			continue
		}
		remove := expired(expiresAt)
		if mode != CleanOld && !remove {
			remove = cachecore.MatchTags(mode, meta.Tags, tags)
		}
		if remove {
			_ = os.Remove(path)
		}
	}
	return nil
}

func (b *fileBackend) path(id string) string {
	sum := sha256.Sum256([]byte(id))
	return filepath.Join(b.opts.CacheDir, b.opts.FileNamePrefix+"--"+hex.EncodeToString(sum[:])+".cache")
}

func expired(expiresAt int64) bool {
	return expiresAt > 0 && time.Now().UnixNano() > expiresAt
}

func decodeFileRecord(data []byte) (int64, fileMeta, []byte, error) {
	var meta fileMeta
	if len(data) < fileHeaderLen || !bytes.Equal(data[:4], fileRecordMagic) {
		return 0, meta, nil, errors.New("cache: corrupt file record")
	}
	expiresAt := int64(binary.BigEndian.Uint64(data[4:12]))
	metaLen := int(binary.BigEndian.Uint32(data[12:16]))
	if len(data) < fileHeaderLen+metaLen {
		return 0, meta, nil, errors.New("cache: corrupt file record")
	}
	if err := json.Unmarshal(data[fileHeaderLen:fileHeaderLen+metaLen], &meta); err != nil {
		return 0, meta, nil, fmt.Errorf("cache: corrupt file record meta: %w", err)
	}
	return expiresAt, meta, data[fileHeaderLen+metaLen:], nil
}
