package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"arrow-client/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	base = logrus.New()

	mu     sync.Mutex
	closer io.Closer
)

// Init 按配置重建全局 logger；重复调用时会先关闭上一次打开的日志文件。
// 未识别的级别回退为 info，未识别的输出回退为 stdout。
func Init(cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	out, c, err := openOutput(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		_ = closer.Close()
	}
	closer = c

	base.SetLevel(level)
	base.SetFormatter(newFormatter(cfg.Format))
	base.SetOutput(out)
	base.ReplaceHooks(make(logrus.LevelHooks))
	base.AddHook(fieldHook{})
	return nil
}

// Close 关闭文件输出（如有），并把输出切回 stdout。
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	base.SetOutput(os.Stdout)
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

func newFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{TimestampFormat: timeLayout}
	}
	return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timeLayout}
}

// openOutput 返回日志写入目标；file 模式使用 lumberjack 做按大小滚动。
func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(cfg.Output) {
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    max(1, cfg.MaxSize.MB()),
			MaxAge:     max(1, cfg.MaxAge),
			MaxBackups: 3,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		return lj, lj, nil
	case "discard":
		return io.Discard, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		return os.Stdout, nil, nil
	}
}

// L 返回全局 logrus Logger。
func L() *logrus.Logger { return base }

// With 创建带字段的日志 Entry。
func With(fields logrus.Fields) *logrus.Entry { return base.WithFields(fields) }

// Component 返回带 component 字段的 Entry，用于区分 link/relay/netmon 等模块。
func Component(name string) *logrus.Entry { return base.WithField("component", name) }

// fieldHook 补齐 goid/func/ts_ms，已显式设置的字段不覆盖。
type fieldHook struct{}

func (fieldHook) Levels() []logrus.Level { return logrus.AllLevels }

func (fieldHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["goid"]; !ok {
		e.Data["goid"] = goid()
	}
	if _, ok := e.Data["func"]; !ok {
		if fn := callerName(); fn != "" {
			e.Data["func"] = fn
		}
	}
	if _, ok := e.Data["ts_ms"]; !ok {
		e.Data["ts_ms"] = time.Now().UnixMilli()
	}
	return nil
}

// callerName 跳过 hook 与 logrus 的栈帧，返回业务调用方函数名。
func callerName() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !strings.Contains(f.Function, "sirupsen/logrus") {
			return f.Function
		}
		if !more {
			return ""
		}
	}
}

func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return 0
	}
	id, _ := strconv.ParseInt(s[:i], 10, 64)
	return id
}
