package forward

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileSource tails a model runtime's log file: bytes appended to the file
// are coalesced over a short debounce window and emitted as one chunk.
// An envelope whose halves land more than a debounce apart never forms a
// complete unit and is a permanent miss for those chunks, matching the
// extractor contract.
type FileSource struct {
	Path     string
	Debounce time.Duration // defaults to 200ms
	Log      *zap.Logger
}

func (s *FileSource) Name() string { return "file:" + s.Path }

func (s *FileSource) Chunks(ctx context.Context) (<-chan string, error) {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	debounce := s.Debounce
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: watching the file itself loses the watch when
	// the runtime rotates or recreates it.
	if err := watcher.Add(filepath.Dir(s.Path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", s.Path, err)
	}

	// Start at the current end: pre-existing content is history, not a
	// live stream.
	offset := int64(0)
	if info, err := os.Stat(s.Path); err == nil {
		offset = info.Size()
	}

	ch := make(chan string)
	go func() {
		defer close(ch)
		defer watcher.Close()

		var pending []byte
		var timer *time.Timer
		var timerC <-chan time.Time

		flush := func() {
			if len(pending) == 0 {
				return
			}
			select {
			case ch <- string(pending):
			case <-ctx.Done():
			}
			pending = nil
		}

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != s.Path || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				grown, newOffset := readAppended(s.Path, offset, log)
				offset = newOffset
				if len(grown) == 0 {
					continue
				}
				pending = trimTail(append(pending, grown...), maxPending)
				if timer == nil {
					timer = time.NewTimer(debounce)
					timerC = timer.C
				} else {
					timer.Reset(debounce)
				}

			case <-timerC:
				flush()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("file watch error", zap.Error(err))
			}
		}
	}()
	return ch, nil
}

// maxPending bounds the coalescing buffer. A stream that never yields an
// envelope must not grow it without bound; only the most recent tail can
// still complete a command.
const maxPending = 8 << 10

// trimTail keeps the last max bytes of b.
func trimTail(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	return append(b[:0:0], b[len(b)-max:]...)
}

// readAppended returns bytes added past offset. A shrunken file (rotation)
// restarts from the beginning.
func readAppended(path string, offset int64, log *zap.Logger) ([]byte, int64) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return nil, offset
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		log.Warn("seek failed", zap.String("path", path), zap.Error(err))
		return nil, offset
	}
	data, err := io.ReadAll(f)
	if err != nil {
		log.Warn("read failed", zap.String("path", path), zap.Error(err))
		return nil, offset
	}
	return data, offset + int64(len(data))
}
