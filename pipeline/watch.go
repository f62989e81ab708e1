package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/fresco-hpc/fresco-etl/common"
)

const (
	watchStability  = 3 * time.Second
	watchQueueDepth = 256
	watchRetries    = 2
	watchWorkers    = 4
)

// Watcher turns filesystem events in a directory into at most one
// processing task per path, each run after a stability delay and retried
// with backoff on failure.
type Watcher struct {
	Dir     string
	Process func(ctx context.Context, path string) error
	Logger  common.ILogger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewWatcher(dir string, process func(context.Context, string) error, logger common.ILogger) *Watcher {
	return &Watcher{
		Dir:      dir,
		Process:  process,
		Logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Run watches until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return common.WrapError(common.EErrorKind.Resource(), err, "watcher init")
	}
	defer fsw.Close()
	if err := fsw.Add(w.Dir); err != nil {
		return common.WrapError(common.EErrorKind.Configuration(), err, "watch "+w.Dir)
	}
	common.Logf(w.Logger, common.ELogLevel.Info(), "watching %s", w.Dir)

	queue := make(chan string, watchQueueDepth)
	var wg sync.WaitGroup
	for i := 0; i < watchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range queue {
				w.handle(ctx, path)
			}
		}()
	}
	defer wg.Wait()
	defer close(queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			common.Logf(w.Logger, common.ELogLevel.Error(), "watch error: %v", err)
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if strings.HasSuffix(event.Name, common.TempSuffix) {
				continue
			}
			if !w.admit(event.Name) {
				continue
			}
			select {
			case queue <- event.Name:
			default:
				w.release(event.Name)
				common.Logf(w.Logger, common.ELogLevel.Warning(),
					"watch queue full, dropping event for %s", filepath.Base(event.Name))
			}
		}
	}
}

// admit reserves a path, refusing when a task for it is already in flight.
func (w *Watcher) admit(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[path]; busy {
		return false
	}
	w.inflight[path] = struct{}{}
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.inflight, path)
	w.mu.Unlock()
}

func (w *Watcher) handle(ctx context.Context, path string) {
	defer w.release(path)

	select {
	case <-ctx.Done():
		return
	case <-time.After(watchStability):
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = 0
	err := backoff.Retry(func() error {
		return w.Process(ctx, path)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, watchRetries), ctx))
	if err != nil {
		common.Logf(w.Logger, common.ELogLevel.Error(),
			"giving up on %s after %d attempts: %v", filepath.Base(path), watchRetries+1, err)
	}
}
