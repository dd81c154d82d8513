package utils

import (
	"context"
	"log"
	"runtime"
	"strings"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/logger"
)

// GoSafe runs the given function in a new goroutine and recovers from any panic.
func GoSafe(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Panic Recovered] %v", r)
			}
		}()
		fn()
	}()
}

func ToPointer[T any](value T) *T {
	return &value
}

// Truncate bounds s to max bytes. Persisted error detail and response bodies
// go through here so a pathological payload cannot bloat a row.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}

// StackTrace captures the current goroutine stack, bounded to max bytes.
func StackTrace(max int) string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return Truncate(string(buf[:n]), max)
}

func ShouldContinue(ctx context.Context, log *logger.Logger) bool {
	select {
	case <-ctx.Done():
		pc, _, _, ok := runtime.Caller(1)
		funcName := "unknown"
		if ok {
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				parts := strings.Split(fn.Name(), "/")
				funcName = parts[len(parts)-1]
			}
		}

		log.Warn("Context cancelled",
			logger.StringField("caller", funcName),
		)
		return false
	default:
		return true
	}
}
