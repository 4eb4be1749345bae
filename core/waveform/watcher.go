package waveform

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"Bt2Deck/cache"
	"Bt2Deck/logger"
	"Bt2Deck/storage"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听波形导入目录。分析器把 {trackID}.json 丢进目录后，
// 文件会被推到MinIO并使旧缓存失效，正在运行的会话下次加载即见新波形。
type Watcher struct {
	dir      string
	fsw      *fsnotify.Watcher
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher 创建导入目录监听器，目录不存在时自动创建
func NewWatcher(dir string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		dir:      dir,
		fsw:      fsw,
		stopChan: make(chan struct{}),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start 启动监听循环
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
	logger.Info("波形导入目录监听已启动", logger.String("dir", w.dir))
}

// Stop 停止监听并等待循环退出
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.fsw.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = make(map[string]*time.Timer)
	w.mu.Unlock()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Error("波形目录监听错误", logger.ErrorField(err))
		}
	}
}

// schedule 去抖：同一文件连续写入只在最后一次之后处理一次
func (w *Watcher) schedule(path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(500*time.Millisecond, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.importFile(path)
	})
}

// importFile 把导入文件推到MinIO并使缓存失效
func (w *Watcher) importFile(path string) {
	base := strings.TrimSuffix(filepath.Base(path), ".json")
	trackID, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		logger.Warn("忽略非曲目ID命名的导入文件", logger.String("file", path))
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("读取导入文件失败", logger.String("file", path), logger.ErrorField(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	objectPath := ObjectPath(trackID)
	if err := storage.PutObjectBytes(ctx, objectPath, data, "application/json"); err != nil {
		logger.Error("推送波形到MinIO失败",
			logger.Int64("trackID", trackID),
			logger.ErrorField(err))
		return
	}

	if err := cache.InvalidateWaveformCache(ctx, trackID); err != nil {
		logger.Warn("波形缓存失效失败", logger.Int64("trackID", trackID), logger.ErrorField(err))
	}

	logger.Info("波形导入完成",
		logger.Int64("trackID", trackID),
		logger.String("object", objectPath))
}
