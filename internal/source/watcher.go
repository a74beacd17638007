package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/finderskeepers/keeperd/internal/ingest"
	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/logging"
)

// DefaultDebounce is how long a path must stay quiet before it is
// ingested. Editors and build tools write files in bursts.
const DefaultDebounce = 2 * time.Second

// WatcherConfig configures directory watching.
type WatcherConfig struct {
	// Dirs are the directories to watch. Subdirectories created later are
	// added automatically; existing ones are not walked.
	Dirs []string

	Project string
	Tags    []string

	// Debounce delays ingestion after the last write; DefaultDebounce when 0.
	Debounce time.Duration

	// MaxFileBytes skips files over this size. 0 means no cap.
	MaxFileBytes int64
}

// Ingestor is the slice of the ingest service the watcher drives.
type Ingestor interface {
	IngestItem(ctx context.Context, req *ingest.Request) (*ingest.Job, error)
}

// Watcher turns filesystem create/write events into background-priority
// ingest jobs. Removals are ignored: the knowledge base keeps the last
// observed version.
type Watcher struct {
	cfg      WatcherConfig
	ingestor Ingestor
	watcher  *fsnotify.Watcher
	log      *logging.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher validates the configuration and allocates the filesystem
// watcher. Call Start to begin receiving events.
func NewWatcher(cfg WatcherConfig, ingestor Ingestor, log *logging.Logger) (*Watcher, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("source: ingestor is required")
	}
	if cfg.Project == "" {
		return nil, knowledge.Validationf("watcher project is required")
	}
	if len(cfg.Dirs) == 0 {
		return nil, knowledge.Validationf("at least one watch directory is required")
	}
	for _, dir := range cfg.Dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, knowledge.Validationf("watch directory %s: %v", dir, err)
		}
		if !info.IsDir() {
			return nil, knowledge.Validationf("watch path %s is not a directory", dir)
		}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if log == nil {
		log = logging.Nop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filesystem watcher: %w", err)
	}
	return &Watcher{
		cfg:      cfg,
		ingestor: ingestor,
		watcher:  fsw,
		log:      log.Named("source.watch"),
		pending:  map[string]*time.Timer{},
		stop:     make(chan struct{}),
	}, nil
}

// Start registers the configured directories and begins processing events
// in a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range w.cfg.Dirs {
		if err := w.watcher.Add(dir); err != nil {
			_ = w.watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.wg.Add(1)
	go w.run(ctx)
	w.log.Info(ctx, "watching directories",
		zap.Strings("dirs", w.cfg.Dirs),
		zap.String("project", w.cfg.Project),
		zap.Duration("debounce", w.cfg.Debounce))
	return nil
}

// Stop closes the watcher and waits for in-flight event handling. Armed
// debounce timers are dropped, not flushed.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if event.Op&fsnotify.Create != 0 && !skippedDirName(filepath.Base(event.Name)) {
					_ = w.watcher.Add(event.Name)
				}
				continue
			}
			if ignoredFile(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn(ctx, "watcher error", zap.Error(err))
		}
	}
}

// schedule (re)arms the debounce timer for a path so write bursts collapse
// into a single ingest once the path goes quiet.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.cfg.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.enqueue(ctx, path)
	})
}

func (w *Watcher) enqueue(ctx context.Context, filePath string) {
	select {
	case <-w.stop:
		return
	default:
	}

	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() || !info.Mode().IsRegular() {
		return
	}
	if w.cfg.MaxFileBytes > 0 && info.Size() > w.cfg.MaxFileBytes {
		w.log.Debug(ctx, "watched file over size cap",
			zap.String("path", filePath), zap.Int64("bytes", info.Size()))
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		w.log.Warn(ctx, "watched file unreadable", zap.String("path", filePath), zap.Error(err))
		return
	}

	job, err := w.ingestor.IngestItem(ctx, &ingest.Request{
		Project:   w.cfg.Project,
		Data:      data,
		Filename:  filepath.Base(filePath),
		SourceURI: "file://" + filepath.ToSlash(filePath),
		DocType:   knowledge.DocTypeFile,
		Tags:      append([]string{"watched"}, w.cfg.Tags...),
		Priority:  ingest.PriorityLow,
	})
	if err != nil {
		w.log.Warn(ctx, "watched file rejected", zap.String("path", filePath), zap.Error(err))
		return
	}
	w.log.Info(ctx, "watched file enqueued",
		zap.String("path", filePath),
		zap.String("job_id", job.ID))
}

// ignoredFile filters editor droppings and hidden files out of the event
// stream before they reach the debounce table.
func ignoredFile(filePath string) bool {
	base := filepath.Base(filePath)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	return false
}

func skippedDirName(name string) bool {
	return defaultSkipDirs[name] || strings.HasPrefix(name, ".")
}
