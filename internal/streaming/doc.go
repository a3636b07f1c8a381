/*
Package streaming serves finished artifacts with timeout protection.

Slow or vanished clients must not hold a connection open indefinitely while a
large download or conversion result is sent. [TimeoutWriter] splits writes
into chunks and sets a write deadline before each one through
http.ResponseController; a write that misses its deadline ends the stream with
[ErrWriteTimeout]. A canceled request context ends it with [ErrClientGone].

[ServeContent] wraps http.ServeContent, so Range and conditional requests keep
working:

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	_, err = streaming.ServeContent(w, r, name, info.ModTime(), f, streaming.DefaultTimeoutWriterConfig())
	if err != nil && !errors.Is(err, streaming.ErrClientGone) {
		logging.Warn("artifact stream ended early: %v", err)
	}
*/
package streaming
