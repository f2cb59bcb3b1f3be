package debug

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (start/stop, calibration, denials)
	LevelLive    = 2 // Live info (speed ramp steps, broadcasts)
	LevelVerbose = 3 // Verbose (computation details, config dumps)
	LevelTrace   = 4 // Trace (GPIO, ADC samples, very low level)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger *zap.Logger
	sugar  *zap.SugaredLogger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (rotation start/stop, calibration)
// 2 = live info (speed ramp, broadcasts)
// 3 = verbose (calculation details)
// 4 = trace (GPIO, ADC, very low level)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	build()
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	build()
}

func build() {
	if level <= LevelOff {
		logger = zap.NewNop()
		sugar = logger.Sugar()
		return
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(out), zapcore.DebugLevel)
	logger = zap.New(core).Named("RotorGo")
	sugar = logger.Sugar()
}

func get() (int, *zap.SugaredLogger) {
	mu.RLock()
	defer mu.RUnlock()
	return level, sugar
}

// Logger returns the underlying structured logger. Never nil.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Level returns the current debug level.
func Level() int {
	lvl, _ := get()
	return lvl
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if lvl, s := get(); lvl >= LevelInfo && s != nil {
		s.Infof(format, args...)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if lvl, s := get(); lvl >= LevelInfo && s != nil {
		s.Infof("  %s = %v", name, value)
	}
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	if lvl, s := get(); lvl >= LevelInfo && s != nil {
		s.Warnf(format, args...)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if lvl, s := get(); lvl >= LevelLive && s != nil {
		s.Infof("[LIVE] "+format, args...)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if lvl, s := get(); lvl >= LevelVerbose && s != nil {
		s.Debugf(format, args...)
	}
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if lvl, s := get(); lvl >= LevelVerbose && s != nil {
		s.Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if lvl, s := get(); lvl >= LevelVerbose && s != nil {
		s.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		s.Debugf("  %s", name)
		s.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if lvl, s := get(); lvl >= LevelVerbose && s != nil {
		s.Debugf("Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO, ADC).
func Trace(format string, args ...interface{}) {
	if lvl, s := get(); lvl >= LevelTrace && s != nil {
		s.Debugf("[TRACE] "+format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if lvl, s := get(); lvl >= LevelTrace && s != nil {
		s.Debugw("[GPIO] "+operation, "pin", pin, "value", value)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if lvl, s := get(); lvl >= LevelInfo && s != nil {
		s.Errorw(err.Error())
	}
}

// Fmt returns a formatted string only if debug is enabled.
func Fmt(format string, args ...interface{}) string {
	if Level() > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
