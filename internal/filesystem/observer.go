package filesystem

// Observer records filesystem operation metrics. Implementations are provided
// by the metrics package to break the import cycle between filesystem and metrics.
type Observer interface {
	// ObserveOperation records duration and error status for a filesystem operation.
	// volume is the resolved directory label (e.g., "uploads", "conversions").
	// operation is one of "stat", "remove", "size", "purge", "locate".
	ObserveOperation(volume, operation string, durationSeconds float64, err error)

	// ObserveRetryAttempt records one retry of a transient failure.
	ObserveRetryAttempt(retryOp, volume string)

	// ObserveFreed records bytes released by a purge.
	ObserveFreed(volume string, bytes int64)
}

// defaultObserver is the package-level observer set at startup.
// If nil, metric recording is silently skipped (safe for tests).
var defaultObserver Observer

// SetObserver sets the package-level metrics observer.
// Call this once at startup after creating the observer implementation.
func SetObserver(o Observer) {
	defaultObserver = o
}

// observe is a nil-safe helper for the package-level observer.
func observe() Observer {
	return defaultObserver
}

func observeOperation(path, operation string, seconds float64, err error) {
	if o := observe(); o != nil {
		o.ObserveOperation(defaultResolver.Resolve(path), operation, seconds, err)
	}
}
