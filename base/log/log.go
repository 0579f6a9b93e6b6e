package log

/**  zap日志的全局包装，进程内共享一个logger
  *  @author tryao
  *  @date 2022/03/18 10:21
**/

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"

	// OutConsole 标准输出
	OutConsole = "console"
	// OutFile 全部日志写<name>.log，warn以上另写<name>-error.log
	OutFile = "file"
)

// Options 日志配置，可以直接嵌到其他配置结构里
type Options struct {
	Name  string `mapstructure:"-"`
	Level string `mapstructure:"level"`
	// Out 用|组合，如 "console|file"
	Out    string `mapstructure:"out"`
	Dir    string `mapstructure:"path"`
	Rotate bool   `mapstructure:"rotate"`
	// 以下只在Rotate时生效
	MaxSizeMB  int `mapstructure:"max_size"`
	MaxAgeDays int `mapstructure:"max_age"`
	MaxBackups int `mapstructure:"max_backups"`
}

type sink struct {
	level   zap.AtomicLevel
	sugar   *zap.SugaredLogger
	closers []io.Closer
}

var (
	current atomic.Pointer[sink]
	levels  = map[string]zapcore.Level{
		LevelDebug: zapcore.DebugLevel,
		LevelInfo:  zapcore.InfoLevel,
		LevelWarn:  zapcore.WarnLevel,
		LevelError: zapcore.ErrorLevel,
	}
)

func parseLevel(s string) zapcore.Level {
	if l, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l
	}
	return zapcore.InfoLevel
}

func encoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	return zapcore.NewConsoleEncoder(cfg)
}

func (o Options) outputs() (console, file bool) {
	for _, s := range strings.Split(strings.ToLower(o.Out), "|") {
		switch strings.TrimSpace(s) {
		case OutConsole:
			console = true
		case OutFile:
			file = true
		}
	}
	return console || !file, file
}

func (o Options) writer(name string) (zapcore.WriteSyncer, io.Closer, error) {
	full := filepath.Join(o.Dir, name+".log")
	if o.Rotate {
		lj := &lumberjack.Logger{
			Filename:   full,
			MaxSize:    o.MaxSizeMB,
			MaxAge:     o.MaxAgeDays,
			MaxBackups: o.MaxBackups,
		}
		return zapcore.AddSync(lj), lj, nil
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

// Setup 替换全局logger，可以多次调用
func Setup(o Options) error {
	s := &sink{level: zap.NewAtomicLevelAt(parseLevel(o.Level))}
	console, file := o.outputs()
	cores := make([]zapcore.Core, 0, 3)
	if console {
		cores = append(cores, zapcore.NewCore(encoder(), zapcore.Lock(os.Stdout), s.level))
	}
	if file {
		o.Dir = lo.Ternary(o.Dir == "", "./log", o.Dir)
		if err := os.MkdirAll(o.Dir, 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		name := lo.Ternary(o.Name == "", "duplex", o.Name)
		all, c1, err := o.writer(name)
		if err != nil {
			return err
		}
		high, c2, err := o.writer(name + "-error")
		if err != nil {
			_ = c1.Close()
			return err
		}
		s.closers = append(s.closers, c1, c2)
		warn := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapcore.WarnLevel && s.level.Enabled(l)
		})
		cores = append(cores,
			zapcore.NewCore(encoder(), all, s.level),
			zapcore.NewCore(encoder(), high, warn))
	}
	install(s, zapcore.NewTee(cores...))
	return nil
}

func install(s *sink, core zapcore.Core) {
	s.sugar = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
	if old := current.Swap(s); old != nil {
		_ = old.sugar.Sync()
		for _, c := range old.closers {
			_ = c.Close()
		}
	}
}

// SetLevel 运行时切换日志级别
func SetLevel(level string) {
	current.Load().level.SetLevel(parseLevel(level))
}

// Level 当前日志级别，如 "info"
func Level() string {
	return current.Load().level.Level().String()
}

func IsDebugEnabled() bool {
	return current.Load().level.Enabled(zapcore.DebugLevel)
}

func logger() *zap.SugaredLogger {
	return current.Load().sugar
}

func Debug(format string, a ...any) { logger().Debugf(format, a...) }

func Info(format string, a ...any) { logger().Infof(format, a...) }

func Warn(format string, a ...any) { logger().Warnf(format, a...) }

func Error(format string, a ...any) { logger().Errorf(format, a...) }

// Fatal 打印后退出进程
func Fatal(format string, a ...any) { logger().Fatalf(format, a...) }

// PanicStack recover之后调用，打印当前协程的堆栈
func PanicStack(prefix string, r any) {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	Error("%s: %v\n%s", prefix, r, buf[:n])
}

func Flush() {
	_ = logger().Sync()
}

// 未调用Setup时输出到控制台，方便测试
func init() {
	s := &sink{level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
	install(s, zapcore.NewCore(encoder(), zapcore.Lock(os.Stdout), s.level))
}
