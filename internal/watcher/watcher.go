package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/parser"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

const (
	defaultDebounce = 500 * time.Millisecond
	importedDir     = ".imported"
	rejectedDir     = ".rejected"
)

type Importer interface {
	Import(ctx context.Context, path string) (*model.Document, <-chan *model.IngestResult, error)
}

// Inbox ingests files dropped into a directory. Imported files are moved to
// .imported and files that can never be ingested to .rejected, so a restart
// only picks up what is still waiting.
type Inbox struct {
	dir      string
	importer Importer
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

type Option func(*Inbox)

func WithDebounce(d time.Duration) Option {
	return func(i *Inbox) {
		if d > 0 {
			i.debounce = d
		}
	}
}

func NewInbox(dir string, importer Importer, opts ...Option) *Inbox {
	i := &Inbox{
		dir:      dir,
		importer: importer,
		debounce: defaultDebounce,
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run watches the directory until ctx is done.
func (i *Inbox) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx).With(zap.String("dir", i.dir))
	for _, sub := range []string{importedDir, rejectedDir} {
		if err := os.MkdirAll(filepath.Join(i.dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(i.dir); err != nil {
		return fmt.Errorf("watch %s: %w", i.dir, err)
	}
	logger.Info("inbox watcher started")
	i.scan(ctx)

	defer i.wait()
	for {
		select {
		case <-ctx.Done():
			logger.Info("inbox watcher stopped")
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			i.schedule(ctx, ev.Name)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (i *Inbox) scan(ctx context.Context) {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		logutil.GetLogger(ctx).Warn("scan inbox failed", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			i.schedule(ctx, filepath.Join(i.dir, entry.Name()))
		}
	}
}

// schedule (re)starts the debounce timer of path so a file still being
// written is imported once, after writes settle.
func (i *Inbox) schedule(ctx context.Context, path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || filepath.Dir(path) != filepath.Clean(i.dir) {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if prev, ok := i.timers[path]; ok && prev.Stop() {
		i.wg.Done()
	}
	i.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(i.debounce, func() {
		defer i.wg.Done()
		i.mu.Lock()
		if i.timers[path] == t {
			delete(i.timers, path)
		}
		i.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		i.handle(ctx, path)
	})
	i.timers[path] = t
}

func (i *Inbox) wait() {
	i.mu.Lock()
	for path, t := range i.timers {
		if t.Stop() {
			i.wg.Done()
		}
		delete(i.timers, path)
	}
	i.mu.Unlock()
	i.wg.Wait()
}

func (i *Inbox) handle(ctx context.Context, path string) {
	logger := logutil.GetLogger(ctx).With(zap.String("path", path))
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if !parser.Supported(path) {
		logger.Warn("unsupported file in inbox")
		i.move(ctx, path, rejectedDir)
		return
	}
	doc, _, err := i.importer.Import(ctx, path)
	if err != nil {
		if errors.Is(err, appErr.ErrInvalid) || errors.Is(err, appErr.ErrFileProcessing) {
			logger.Warn("inbox file rejected", zap.Error(err))
			i.move(ctx, path, rejectedDir)
			return
		}
		logger.Error("import inbox file failed", zap.Error(err))
		return
	}
	logger.Info("inbox file queued", zap.String("doc_id", doc.ID))
	i.move(ctx, path, importedDir)
}

func (i *Inbox) move(ctx context.Context, path, sub string) {
	target := filepath.Join(i.dir, sub, fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(path)))
	if err := os.Rename(path, target); err != nil {
		logutil.GetLogger(ctx).Warn("move inbox file failed", zap.String("path", path), zap.Error(err))
	}
}
