package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/marksman/ipc"
	"github.com/justapithecus/marksman/types"
)

// spoolEntry is one step as staged on disk.
type spoolEntry struct {
	Step  types.EpisodeStep `msgpack:"step"`
	Image []byte            `msgpack:"image"`
}

// spool stages the live episode on local disk as a sequence of
// length-prefixed msgpack frames. Nothing reaches the dataset until replay.
type spool struct {
	path string
	file *os.File
	w    *bufio.Writer
	n    int
}

func createSpool(dir string, index uint32) (*spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool dir: %w", err)
	}
	f, err := os.CreateTemp(dir, fmt.Sprintf("episode_%06d_*.spool", index))
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	return &spool{path: f.Name(), file: f, w: bufio.NewWriter(f)}, nil
}

func (s *spool) append(step types.EpisodeStep, image []byte) error {
	payload, err := msgpack.Marshal(&spoolEntry{Step: step, Image: image})
	if err != nil {
		return fmt.Errorf("encoding step %d: %w", s.n, err)
	}
	if err := ipc.WriteFrame(s.w, payload); err != nil {
		return fmt.Errorf("spooling step %d: %w", s.n, err)
	}
	s.n++
	return nil
}

// replay flushes the spool and calls fn for every entry in order.
func (s *spool) replay(fn func(i int, e *spoolEntry) error) error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flushing spool: %w", err)
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding spool: %w", err)
	}

	decoder := ipc.NewFrameDecoder(bufio.NewReader(s.file))
	for i := 0; ; i++ {
		payload, err := decoder.ReadFrame()
		if errors.Is(err, io.EOF) {
			if i != s.n {
				return fmt.Errorf("spool holds %d steps, want %d", i, s.n)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading spooled step %d: %w", i, err)
		}
		var e spoolEntry
		if err := msgpack.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("decoding spooled step %d: %w", i, err)
		}
		if err := fn(i, &e); err != nil {
			return err
		}
	}
}

// remove closes and deletes the spool file.
func (s *spool) remove() error {
	closeErr := s.file.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(closeErr, err)
	}
	return closeErr
}
