package gateway

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// credentialWatcher watches the credential file and reloads it when it
// changes. Deploy tooling replaces files atomically, so the watcher
// monitors the parent directory and filters events by file name.
type credentialWatcher struct {
	path          string
	watcher       *fsnotify.Watcher
	reload        func() error
	onReload      func()
	logger        *zap.Logger
	debounceDelay time.Duration
	mu            sync.Mutex
	stopCh        chan struct{}
	stoppedCh     chan struct{}
	running       bool
}

func newCredentialWatcher(
	path string,
	reload func() error,
	onReload func(),
	logger *zap.Logger,
) (*credentialWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &credentialWatcher{
		path:          absPath,
		watcher:       fsWatcher,
		reload:        reload,
		onReload:      onReload,
		logger:        logger,
		debounceDelay: 100 * time.Millisecond,
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}, nil
}

func (w *credentialWatcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	w.logger.Info("watching credential file", zap.String("path", w.path))

	go w.watch()

	return nil
}

func (w *credentialWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh

	return w.watcher.Close()
}

func (w *credentialWatcher) watch() {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.debounceDelay)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			w.doReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("credential watcher error", zap.Error(err))
		}
	}
}

// doReload re-reads the credential file. A parse error leaves the
// previous snapshot serving requests.
func (w *credentialWatcher) doReload() {
	if err := w.reload(); err != nil {
		w.logger.Error("credential reload failed, keeping previous set",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.logger.Info("credentials reloaded", zap.String("path", w.path))

	if w.onReload != nil {
		w.onReload()
	}
}
