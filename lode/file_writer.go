package lode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/marksman/iox"
)

// MetaFileName is the run-level dataset description file.
const MetaFileName = "meta.json"

// EpisodeDir returns the run-relative directory holding an episode's frames.
func EpisodeDir(episode uint32) string {
	return fmt.Sprintf("episode_%06d", episode)
}

// EpisodeFramePath returns the run-relative file name of one episode frame.
func EpisodeFramePath(episode uint32, frame int) string {
	return fmt.Sprintf("%s/frame_%05d.jpg", EpisodeDir(episode), frame)
}

// FileWriter writes run files (frame images, meta.json) to the Lode Store.
// Files land at Hive-partitioned paths under files/, bypassing Dataset
// segment/manifest machinery entirely.
type FileWriter interface {
	// PutFile writes a file below the run's files/ prefix. The name is a
	// slash-separated relative path; empty and ".." segments are rejected.
	PutFile(ctx context.Context, name string, data []byte) error
}

// Verify LodeClient implements FileWriter.
var _ FileWriter = (*LodeClient)(nil)

// PutFile writes a run file to Lode Store at the computed Hive path.
func (c *LodeClient) PutFile(ctx context.Context, name string, data []byte) error {
	if err := validateFileName(name); err != nil {
		return err
	}
	store, err := c.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, c.config.Dataset)
	}

	path := c.FilePath(name)
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return WrapWriteError(err, path)
	}
	return nil
}

// GetFile reads back a run file written by PutFile.
func (c *LodeClient) GetFile(ctx context.Context, name string) ([]byte, error) {
	if err := validateFileName(name); err != nil {
		return nil, err
	}
	store, err := c.getOrCreateStore()
	if err != nil {
		return nil, WrapInitError(err, c.config.Dataset)
	}

	path := c.FilePath(name)
	rc, err := store.Get(ctx, path)
	if err != nil {
		return nil, WrapReadError(err, path)
	}
	defer iox.DiscardClose(rc)

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, WrapReadError(err, path)
	}
	return data, nil
}

// getOrCreateStore lazily initializes the Store from the factory.
func (c *LodeClient) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

// FilePath computes the Hive-partitioned path for a run file.
// Format: datasets/<dataset>/partitions/source=<s>/day=<d>/run_id=<r>/files/<name>
func (c *LodeClient) FilePath(name string) string {
	return fmt.Sprintf("datasets/%s/partitions/source=%s/day=%s/run_id=%s/files/%s",
		c.config.Dataset,
		c.config.Source,
		c.config.Day,
		c.config.RunID,
		name,
	)
}

func validateFileName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") {
		return fmt.Errorf("invalid file name %q", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.Contains(seg, "\\") {
			return fmt.Errorf("invalid file name %q", name)
		}
	}
	return nil
}

// StubFileWriter records PutFile calls for testing.
type StubFileWriter struct {
	mu    sync.Mutex
	Files map[string][]byte
	Order []string

	// Err, when set, is returned by every PutFile.
	Err error
}

// NewStubFileWriter creates a new stub file writer.
func NewStubFileWriter() *StubFileWriter {
	return &StubFileWriter{Files: make(map[string][]byte)}
}

// PutFile implements FileWriter by recording the call.
func (w *StubFileWriter) PutFile(_ context.Context, name string, data []byte) error {
	if err := validateFileName(name); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return w.Err
	}
	w.Files[name] = append([]byte(nil), data...)
	w.Order = append(w.Order, name)
	return nil
}

// Verify StubFileWriter implements FileWriter.
var _ FileWriter = (*StubFileWriter)(nil)
