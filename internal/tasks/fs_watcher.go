package tasks

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"leaffliction/internal/fsutil"
)

// FileSystemEvent is an image that appeared or changed in a watched directory.
type FileSystemEvent struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // "created", "modified"
	Time      time.Time `json:"time"`
	Size      int64     `json:"size"`
}

var derivedName = regexp.MustCompile(`_(aug_\d+_[A-Za-z]+|Original|GaussianBlur|Mask|RoiObjects|AnalyzeObject|Pseudolandmarks|Flip|Rotate|Skew|Shear|Crop|Distortion)$`)

// IsDerivedImage reports whether path looks like a file this tool wrote.
func IsDerivedImage(path string) bool {
	stem := filepath.Base(path)
	stem = stem[:len(stem)-len(filepath.Ext(stem))]
	return derivedName.MatchString(stem)
}

// FileSystemWatcher reports new images once writes to them have settled.
type FileSystemWatcher struct {
	watcher   *fsnotify.Watcher
	Events    chan FileSystemEvent
	watchDirs []string
	settle    time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileSystemWatcher creates a watcher over watchPaths. An event is emitted
// once a file has seen no writes for settle.
func NewFileSystemWatcher(watchPaths []string, settle time.Duration, log *slog.Logger) (*FileSystemWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FileSystemWatcher{
		watcher:   watcher,
		Events:    make(chan FileSystemEvent, 100),
		watchDirs: watchPaths,
		settle:    settle,
		log:       log,
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}, nil
}

// Start begins monitoring the configured directories.
func (fsw *FileSystemWatcher) Start() error {
	for _, dir := range fsw.watchDirs {
		if err := fsw.watcher.Add(dir); err != nil {
			return err
		}
		fsw.log.Info("watching directory", "dir", dir)
	}
	fsw.wg.Add(1)
	go fsw.processEvents()
	return nil
}

// Stop stops the watcher and closes Events.
func (fsw *FileSystemWatcher) Stop() error {
	close(fsw.done)
	err := fsw.watcher.Close()
	fsw.wg.Wait()

	fsw.mu.Lock()
	for path, t := range fsw.pending {
		t.Stop()
		delete(fsw.pending, path)
	}
	close(fsw.Events)
	fsw.mu.Unlock()
	return err
}

func (fsw *FileSystemWatcher) processEvents() {
	defer fsw.wg.Done()
	for {
		select {
		case event, ok := <-fsw.watcher.Events:
			if !ok {
				return
			}
			var operation string
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				operation = "created"
			case event.Op&fsnotify.Write == fsnotify.Write:
				operation = "modified"
			default:
				continue
			}
			if !fsutil.IsImageFile(event.Name) || IsDerivedImage(event.Name) {
				continue
			}
			fsw.schedule(event.Name, operation)

		case err, ok := <-fsw.watcher.Errors:
			if !ok {
				return
			}
			fsw.log.Error("filesystem watcher error", "error", err)

		case <-fsw.done:
			return
		}
	}
}

// schedule (re)arms the settle timer for path.
func (fsw *FileSystemWatcher) schedule(path, operation string) {
	fsw.mu.Lock()
	defer fsw.mu.Unlock()
	if t, ok := fsw.pending[path]; ok {
		t.Stop()
	}
	fsw.pending[path] = time.AfterFunc(fsw.settle, func() { fsw.emit(path, operation) })
}

func (fsw *FileSystemWatcher) emit(path, operation string) {
	fsw.mu.Lock()
	defer fsw.mu.Unlock()
	select {
	case <-fsw.done:
		return
	default:
	}
	delete(fsw.pending, path)

	info, err := os.Stat(path)
	if err != nil {
		return // removed before it settled
	}
	ev := FileSystemEvent{Path: path, Operation: operation, Time: time.Now(), Size: info.Size()}
	select {
	case fsw.Events <- ev:
	default:
		fsw.log.Warn("event buffer full, dropping event", "path", path)
	}
}
