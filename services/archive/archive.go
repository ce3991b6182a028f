// Package archive packs registry snapshots into tar.zst files, optionally
// encrypted to age recipients, and ships them to object storage.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	gos3 "escapade/pkg/s3"
	"escapade/services/store"
)

const contentType = "application/zstd"

// Options controls how an archive is written.
type Options struct {
	// Recipients encrypt the archive when non-empty.
	Recipients []age.Recipient
}

// ParseRecipients parses comma-separated age X25519 recipients.
func ParseRecipients(raw string) ([]age.Recipient, error) {
	var out []age.Recipient
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, err := age.ParseX25519Recipient(part)
		if err != nil {
			return nil, fmt.Errorf("parse age recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

type document struct {
	path string
	data []byte
}

func documents(snap store.Snapshot) ([]document, map[string]int, error) {
	parts := []struct {
		name  string
		value any
		count int
	}{
		{"sessions", snap.Sessions, len(snap.Sessions)},
		{"checkpoints", snap.Checkpoints, len(snap.Checkpoints)},
		{"controllers", snap.Controllers, len(snap.Controllers)},
		{"storylines", snap.Storylines, len(snap.Storylines)},
	}
	docs := make([]document, 0, len(parts))
	counts := make(map[string]int, len(parts))
	for _, p := range parts {
		data, err := json.MarshalIndent(p.value, "", "  ")
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s: %w", p.name, err)
		}
		docs = append(docs, document{path: p.name + ".json", data: data})
		counts[p.name] = p.count
	}
	return docs, counts, nil
}

// Write streams snap to w as a tar.zst archive, manifest first.
func Write(ctx context.Context, w io.Writer, snap store.Snapshot, opts Options) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs, counts, err := documents(snap)
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{
		Version:   manifestVersion,
		TakenAt:   snap.TakenAt.UTC().Truncate(time.Second),
		Encrypted: len(opts.Recipients) > 0,
		Counts:    counts,
	}
	for _, d := range docs {
		sum := sha256.Sum256(d.data)
		manifest.Files = append(manifest.Files, ManifestFile{
			Path:   d.path,
			Size:   int64(len(d.data)),
			SHA256: hex.EncodeToString(sum[:]),
		})
	}
	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	sink := w
	var enc io.WriteCloser
	if manifest.Encrypted {
		if enc, err = age.Encrypt(w, opts.Recipients...); err != nil {
			return nil, fmt.Errorf("age encrypt: %w", err)
		}
		sink = enc
	}

	zw, err := zstd.NewWriter(sink)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	all := append([]document{{path: manifestFileName, data: manifestBytes}}, docs...)
	for _, d := range all {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		header := &tar.Header{
			Name:     d.path,
			Mode:     0o644,
			Size:     int64(len(d.data)),
			ModTime:  manifest.TakenAt,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("write header for %q: %w", d.path, err)
		}
		if _, err := tw.Write(d.data); err != nil {
			return nil, fmt.Errorf("write %q: %w", d.path, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zstd: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("close age: %w", err)
		}
	}
	return manifest, nil
}

// Read unpacks an archive written by Write and verifies every document
// against the manifest. Identities are required for encrypted archives.
func Read(ctx context.Context, r io.Reader, identities ...age.Identity) (*Manifest, store.Snapshot, error) {
	src := r
	if len(identities) > 0 {
		dec, err := age.Decrypt(r, identities...)
		if err != nil {
			return nil, store.Snapshot{}, fmt.Errorf("age decrypt: %w", err)
		}
		src = dec
	}

	zr, err := zstd.NewReader(src)
	if err != nil {
		return nil, store.Snapshot{}, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	var (
		manifestBytes []byte
		files         = map[string][]byte{}
	)
	tr := tar.NewReader(zr)
	for {
		if err := ctx.Err(); err != nil {
			return nil, store.Snapshot{}, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, store.Snapshot{}, fmt.Errorf("read tar entry: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, store.Snapshot{}, fmt.Errorf("read %q: %w", header.Name, err)
		}
		if header.Name == manifestFileName {
			manifestBytes = data
			continue
		}
		files[header.Name] = data
	}

	if len(manifestBytes) == 0 {
		return nil, store.Snapshot{}, errors.New("archive missing manifest.yaml")
	}
	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, store.Snapshot{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != manifestVersion {
		return nil, store.Snapshot{}, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}

	for _, f := range manifest.Files {
		data, ok := files[f.Path]
		if !ok {
			return nil, store.Snapshot{}, fmt.Errorf("%q missing from archive", f.Path)
		}
		if int64(len(data)) != f.Size {
			return nil, store.Snapshot{}, fmt.Errorf("size mismatch for %q: expected %d got %d", f.Path, f.Size, len(data))
		}
		sum := sha256.Sum256(data)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), f.SHA256) {
			return nil, store.Snapshot{}, fmt.Errorf("sha256 mismatch for %q", f.Path)
		}
	}

	snap := store.Snapshot{TakenAt: manifest.TakenAt}
	targets := map[string]any{
		"sessions.json":    &snap.Sessions,
		"checkpoints.json": &snap.Checkpoints,
		"controllers.json": &snap.Controllers,
		"storylines.json":  &snap.Storylines,
	}
	for name, dest := range targets {
		data, ok := files[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(data, dest); err != nil {
			return nil, store.Snapshot{}, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return &manifest, snap, nil
}

// WriteFile writes the archive to path.
func WriteFile(ctx context.Context, path string, snap store.Snapshot, opts Options) (*Manifest, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	manifest, err := Write(ctx, file, snap, opts)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return manifest, nil
}

// Upload writes the archive into bucket under gos3.ArchiveKey and returns the key.
func Upload(ctx context.Context, client *gos3.Client, bucket string, snap store.Snapshot, opts Options) (string, *Manifest, error) {
	if client == nil {
		return "", nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return "", nil, errors.New("bucket is required")
	}

	var buf bytes.Buffer
	manifest, err := Write(ctx, &buf, snap, opts)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(buf.Bytes())
	key := gos3.ArchiveKey(manifest.TakenAt)
	size := int64(buf.Len())
	if err := client.PutObject(ctx, bucket, key, contentType, &buf, size, hex.EncodeToString(sum[:])); err != nil {
		return "", nil, fmt.Errorf("upload %s: %w", key, err)
	}
	return key, manifest, nil
}
