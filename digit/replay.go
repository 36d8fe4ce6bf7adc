package digit

import (
	"fmt"
	"image"
	_ "image/jpeg" // frame decoding
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ReplayOpts are options for a replay session.
type ReplayOpts struct {
	// Dir is the directory to watch for .jpg frames.
	Dir string

	Verbose bool
}

// ReplaySession is a Session fed from a directory of .jpg files instead of
// hardware. Dropping a file into the directory makes it the next frame, so
// the capture tool can be exercised without a DIGIT attached. Settings are
// accepted and remembered but have no effect on the frames served.
type ReplaySession struct {
	opts    ReplayOpts
	caps    Capabilities
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	last   image.Image
	broken error

	intensity int
	stream    int
}

var _ Session = (*ReplaySession)(nil)

// ConnectReplay starts watching opts.Dir. The most recent .jpg already in
// the directory, if any, becomes the initial frame.
func ConnectReplay(opts ReplayOpts) (*ReplaySession, error) {
	fi, err := os.Stat(opts.Dir)
	if err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("replay dir %q: %w", opts.Dir, ErrNoDevice)
	}

	catalog := DefaultCatalog()
	s := &ReplaySession{
		opts: opts,
		caps: Capabilities{
			Intensity: IntensityRange{LightingMin, LightingMax},
			Streams:   catalog,
		},
		stream: catalog.DefaultIndex(),
	}
	s.loadExisting()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %v", err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if !strings.HasSuffix(ev.Name, ".jpg") {
					continue
				}
				s.loadFrame(ev.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.mu.Lock()
				s.broken = fmt.Errorf("watching %s: %v", opts.Dir, err)
				s.mu.Unlock()
			}
		}
	}()

	if err := watcher.Add(opts.Dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching replay dir: %v", err)
	}
	return s, nil
}

func (s *ReplaySession) loadExisting() {
	names, err := filepath.Glob(filepath.Join(s.opts.Dir, "*.jpg"))
	if err != nil || len(names) == 0 {
		return
	}
	sort.Strings(names)
	s.loadFrame(names[len(names)-1])
}

func (s *ReplaySession) loadFrame(name string) {
	f, err := os.Open(name)
	if err != nil {
		if s.opts.Verbose {
			log.Printf("replay, open %q: %v", name, err)
		}
		return
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		// May be partially written; the next write event retries.
		if s.opts.Verbose {
			log.Printf("replay, decoding %q: %v", name, err)
		}
		return
	}
	s.mu.Lock()
	s.last = img
	s.mu.Unlock()
}

func (s *ReplaySession) Capabilities() Capabilities {
	return s.caps
}

func (s *ReplaySession) SetIntensity(v int) error {
	if v < s.caps.Intensity.Min || v > s.caps.Intensity.Max {
		return fmt.Errorf("intensity %d: %w", v, ErrOutOfRange)
	}
	s.intensity = v
	return nil
}

// Intensity reports in the readback scale, mirroring the hardware quirk so
// replay runs exercise the same scale-down path.
func (s *ReplaySession) Intensity() (int, error) {
	return s.intensity * 263, nil
}

func (s *ReplaySession) SetStream(index int) error {
	if _, err := s.caps.Streams.At(index); err != nil {
		return err
	}
	s.stream = index
	return nil
}

func (s *ReplaySession) StreamIndex() int {
	return s.stream
}

// PullFrame returns the most recently dropped frame, or a blank frame at
// the current stream resolution while the directory is still empty. It
// fails only once the watcher broke.
func (s *ReplaySession) PullFrame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken != nil {
		return nil, s.broken
	}
	if s.last == nil {
		opt, _ := s.caps.Streams.At(s.stream)
		return image.NewGray(image.Rect(0, 0, opt.Resolution.Width, opt.Resolution.Height)), nil
	}
	return s.last, nil
}

// Connected checks the replay directory still exists.
func (s *ReplaySession) Connected() bool {
	fi, err := os.Stat(s.opts.Dir)
	return err == nil && fi.IsDir()
}

// Close stops the directory watcher.
func (s *ReplaySession) Close() error {
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			log.Printf("replay, closing watcher: %v", err)
		}
		s.watcher = nil
	}
	return nil
}
