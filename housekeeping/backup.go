// Package housekeeping runs the server's periodic jobs: offer expiry and
// compressed snapshots of the document store.
package housekeeping

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/stevemurr/pos-server/store"
)

const (
	backupPrefix = "backup_restaurant_data_"
	backupSuffix = ".json.zst"
	stampLayout  = "20060102_150405"

	// FormatVersion is written into every snapshot.
	FormatVersion = "1"
)

// Snapshot is the content of a backup file.
type Snapshot struct {
	Version     string                      `json:"version"`
	Timestamp   time.Time                   `json:"timestamp"`
	Collections map[string][]store.Document `json:"collections"`
}

// BackupInfo describes one backup file.
type BackupInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	Created time.Time `json:"created"`

	seq int
}

// Backuper writes zstd-compressed JSON snapshots of a store into a directory
// and keeps only the newest MaxBackups of them.
type Backuper struct {
	Dir        string
	MaxBackups int
	Now        func() time.Time

	store  store.Store
	logger *slog.Logger
	mu     sync.Mutex // one backup at a time
}

// NewBackuper returns a Backuper for s.
func NewBackuper(s store.Store, dir string, maxBackups int, logger *slog.Logger) *Backuper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backuper{Dir: dir, MaxBackups: maxBackups, store: s, logger: logger, Now: time.Now}
}

// Snapshot reads every collection of the store.
func (b *Backuper) Snapshot(ctx context.Context) (*Snapshot, error) {
	names, err := b.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	snap := &Snapshot{
		Version:     FormatVersion,
		Timestamp:   b.Now().UTC(),
		Collections: make(map[string][]store.Document, len(names)),
	}
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range names {
		g.Go(func() error {
			docs, err := b.store.Collection(name).Find(ctx, nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			mu.Lock()
			snap.Collections[name] = docs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Run takes a snapshot, writes it and prunes old backups. It returns the
// path of the new file.
func (b *Backuper) Run(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, err := b.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(b.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	name, err := b.freeName(snap.Timestamp)
	if err != nil {
		return "", err
	}
	path := filepath.Join(b.Dir, name)
	if err := writeSnapshot(path, snap); err != nil {
		return "", err
	}
	docs := 0
	for _, d := range snap.Collections {
		docs += len(d)
	}
	b.logger.Info("backup written", "file", name, "collections", len(snap.Collections), "documents", docs)
	if err := b.prune(); err != nil {
		b.logger.Warn("backup retention", "err", err)
	}
	return path, nil
}

func writeSnapshot(path string, snap *Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".backup-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := encodeSnapshot(tmp, snap); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func encodeSnapshot(w io.Writer, snap *Snapshot) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		enc.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return enc.Close()
}

// Load reads a backup file written by Run.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	var snap Snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &snap, nil
}

// Restore upserts every document of snap into s by _id. Documents in s that
// are not in the snapshot are left alone.
func Restore(ctx context.Context, s store.Store, snap *Snapshot) (int, error) {
	n := 0
	for _, name := range sortedNames(snap.Collections) {
		c := s.Collection(name)
		for _, d := range snap.Collections[name] {
			if _, err := c.ReplaceOne(ctx, store.Filter{store.IDField: d.ID()}, d, store.WithUpsert(true)); err != nil {
				return n, fmt.Errorf("restore %s/%s: %w", name, d.ID(), err)
			}
			n++
		}
	}
	return n, nil
}

// List returns the backups in the directory, newest first.
func (b *Backuper) List() ([]BackupInfo, error) {
	entries, err := os.ReadDir(b.Dir)
	if os.IsNotExist(err) {
		return []BackupInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := []BackupInfo{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		created, seq, ok := parseBackupName(name)
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{Name: name, Size: info.Size(), Created: created, seq: seq})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].seq > out[j].seq
	})
	return out, nil
}

// freeName returns the file name for a backup taken at t. A second backup
// within the same second gets a "_2", "_3", ... suffix.
func (b *Backuper) freeName(t time.Time) (string, error) {
	stamp := t.Format(stampLayout)
	for seq := 1; ; seq++ {
		name := backupPrefix + stamp + backupSuffix
		if seq > 1 {
			name = backupPrefix + stamp + "_" + strconv.Itoa(seq) + backupSuffix
		}
		_, err := os.Stat(filepath.Join(b.Dir, name))
		if os.IsNotExist(err) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func parseBackupName(name string) (time.Time, int, bool) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
	seq := 1
	if len(stamp) > len(stampLayout) {
		n, err := strconv.Atoi(strings.TrimPrefix(stamp[len(stampLayout):], "_"))
		if err != nil || stamp[len(stampLayout)] != '_' || n < 2 {
			return time.Time{}, 0, false
		}
		stamp, seq = stamp[:len(stampLayout)], n
	}
	created, err := time.Parse(stampLayout, stamp)
	if err != nil {
		return time.Time{}, 0, false
	}
	return created, seq, true
}

func (b *Backuper) prune() error {
	if b.MaxBackups <= 0 {
		return nil
	}
	backups, err := b.List()
	if err != nil {
		return err
	}
	for _, old := range backups[min(len(backups), b.MaxBackups):] {
		if err := os.Remove(filepath.Join(b.Dir, old.Name)); err != nil {
			return err
		}
		b.logger.Info("old backup removed", "file", old.Name)
	}
	return nil
}

func sortedNames(m map[string][]store.Document) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
