package errhandler

import (
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrorHandler receives non-fatal errors. Implementations must not panic and
// must return quickly; they are called from event and probe goroutines.
type ErrorHandler interface {
	HandleError(err error, message string)
}

// Func adapts a plain function to ErrorHandler.
type Func func(err error, message string)

func (f Func) HandleError(err error, message string) { f(err, message) }

// Discard drops every error.
var Discard ErrorHandler = Func(func(error, string) {})

// LogHandler writes errors to logrus at warn level. Bursts are throttled; the
// number of dropped reports is attached to the next entry that gets through.
type LogHandler struct {
	entry      *log.Entry
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

func NewLogHandler(component string) *LogHandler {
	return &LogHandler{
		entry:   log.WithField("component", component),
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

func (h *LogHandler) HandleError(err error, message string) {
	if !h.limiter.Allow() {
		h.suppressed.Add(1)
		return
	}

	entry := h.entry.WithError(err)
	if n := h.suppressed.Swap(0); n > 0 {
		entry = entry.WithField("suppressed", n)
	}
	entry.Warn(message)
}
