// internal/bundle/bundle.go
package bundle

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"muse/internal/model"
	"muse/internal/object"
	"muse/internal/vcserr"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const manifestEntry = "MANIFEST.json"

// Header describes the snapshot a bundle carries.
type Header struct {
	SchemaVersion int            `json:"schema_version"`
	CommitID      string         `json:"commit_id"`
	SnapshotID    string         `json:"snapshot_id"`
	Files         model.Manifest `json:"files"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Writer packs a snapshot's objects into a zstd-compressed tar stream.
// Bundles move whole takes between machines without network sync:
// audio blobs compress poorly but project and MIDI files do well.
type Writer struct {
	objects *object.Store
	logger  *zap.Logger
}

func NewWriter(objects *object.Store, logger *zap.Logger) *Writer {
	return &Writer{objects: objects, logger: logger}
}

// Create writes a bundle for the given commit and manifest to dest.
// Every referenced object must exist; validation runs before any
// output is written.
func (w *Writer) Create(dest, commitID, snapshotID string, files model.Manifest) error {
	for path, id := range files {
		if !w.objects.Has(id) {
			return vcserr.ObjectMissing(id, path)
		}
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating bundle file: %w", err)
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	tw := tar.NewWriter(enc)

	header := Header{
		SchemaVersion: 1,
		CommitID:      commitID,
		SnapshotID:    snapshotID,
		Files:         files,
		CreatedAt:     time.Now().UTC(),
	}
	headerData, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encoding bundle header: %w", err)
	}
	if err := writeEntry(tw, manifestEntry, headerData); err != nil {
		return err
	}

	// One tar entry per unique object; manifests can map many paths to
	// one blob.
	written := make(map[string]bool)
	for _, id := range files {
		if written[id] {
			continue
		}
		content, err := w.objects.Read(id)
		if err != nil {
			return err
		}
		if content == nil {
			return vcserr.ObjectMissing(id, "")
		}
		if err := writeEntry(tw, "objects/"+id, content); err != nil {
			return err
		}
		written[id] = true
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing bundle archive: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing zstd stream: %w", err)
	}

	w.logger.Info("bundle created",
		zap.String("dest", filepath.Base(dest)),
		zap.Int("objects", len(written)))
	return nil
}

// Extract reads a bundle and stores every object it carries. Returns
// the header so callers can recreate commit and snapshot rows. Writes
// are idempotent: objects already present are skipped harmlessly.
func Extract(src string, objects *object.Store, logger *zap.Logger) (*Header, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("opening bundle: %w", err)
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	var header *Header
	stored := 0

	for {
		entry, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading bundle entry: %w", err)
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading bundle entry %s: %w", entry.Name, err)
		}

		if entry.Name == manifestEntry {
			header = &Header{}
			if err := json.Unmarshal(content, header); err != nil {
				return nil, fmt.Errorf("decoding bundle header: %w", err)
			}
			continue
		}

		id := filepath.Base(entry.Name)
		storedID, _, err := objects.Write(content)
		if err != nil {
			return nil, err
		}
		if storedID != id {
			return nil, fmt.Errorf("bundle entry %s does not match its content hash", id)
		}
		stored++
	}

	if header == nil {
		return nil, fmt.Errorf("bundle has no header entry")
	}

	logger.Info("bundle extracted",
		zap.String("commit", shortID(header.CommitID)),
		zap.Int("objects", stored))
	return header, nil
}

func writeEntry(tw *tar.Writer, name string, content []byte) error {
	if err := tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0644,
		Size: int64(len(content)),
	}); err != nil {
		return fmt.Errorf("writing bundle entry header %s: %w", name, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("writing bundle entry %s: %w", name, err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
