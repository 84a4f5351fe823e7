// Package lightcache bakes indirect lighting for a scene into its light cache. A Baker hands
// out bake jobs, runs them on the calling goroutine or on its worker pool, and keeps the
// scene's cache shared with the evaluated copy the job renders from.
package lightcache

import (
	"github.com/gekko3d/lightcache/internal/logging"
)

type Logger = logging.Logger

func NewDefaultLogger(prefix string, debug bool) Logger {
	return logging.NewDefaultLogger(prefix, debug)
}

func NewNopLogger() Logger {
	return logging.NewNopLogger()
}
