package bundle

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"muse/internal/logging"
	"muse/internal/model"
	"muse/internal/object"
	"muse/internal/vcserr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStores(t *testing.T) (*object.Store, *object.Store) {
	t.Helper()
	src, err := object.New(object.Options{Root: filepath.Join(t.TempDir(), "objects")})
	require.NoError(t, err)
	dst, err := object.New(object.Options{Root: filepath.Join(t.TempDir(), "objects")})
	require.NoError(t, err)
	return src, dst
}

func TestBundleRoundTrip(t *testing.T) {
	src, dst := setupStores(t)
	logger := logging.Nop()

	lead := []byte("lead synth take 3")
	pad := []byte("warm pad layer")
	leadID, _, err := src.Write(lead)
	require.NoError(t, err)
	padID, _, err := src.Write(pad)
	require.NoError(t, err)

	files := model.Manifest{
		"tracks/lead.mid": leadID,
		"tracks/pad.mid":  padID,
		"alt/lead.mid":    leadID, // two paths sharing one blob
	}

	dest := filepath.Join(t.TempDir(), "take.musebundle")
	writer := NewWriter(src, logger)
	require.NoError(t, writer.Create(dest, "commit-1", "snap-1", files))

	header, err := Extract(dest, dst, logger)
	require.NoError(t, err)
	assert.Equal(t, "commit-1", header.CommitID)
	assert.Equal(t, "snap-1", header.SnapshotID)
	assert.Equal(t, files, header.Files)

	got, err := dst.Read(leadID)
	require.NoError(t, err)
	assert.Equal(t, lead, got)
	got, err = dst.Read(padID)
	require.NoError(t, err)
	assert.Equal(t, pad, got)
}

func TestCreateFailsFastOnMissingObject(t *testing.T) {
	src, _ := setupStores(t)

	files := model.Manifest{"ghost.mid": object.HashBytes([]byte("never stored"))}
	dest := filepath.Join(t.TempDir(), "broken.musebundle")

	err := NewWriter(src, logging.Nop()).Create(dest, "c", "s", files)
	var verr *vcserr.Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, vcserr.KindObjectMissing, verr.Kind)
	assert.Equal(t, "ghost.mid", verr.Path)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "validation failure must not leave a bundle file")
}

func TestExtractIsIdempotent(t *testing.T) {
	src, dst := setupStores(t)
	logger := logging.Nop()

	content := []byte("drum bus")
	id, _, err := src.Write(content)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "drums.musebundle")
	require.NoError(t, NewWriter(src, logger).Create(dest, "c", "s", model.Manifest{"drums.wav": id}))

	_, err = Extract(dest, dst, logger)
	require.NoError(t, err)
	_, err = Extract(dest, dst, logger)
	require.NoError(t, err, "re-extracting over existing objects is harmless")
}
