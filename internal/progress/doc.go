// Package progress implements the per-job progress record: an append-only
// text file named after the job token.
//
// The job runner is the only writer for a token. It obtains a Writer from
// Channel.Open and appends the external tool's output one line at a time.
// Any number of readers may call Read, ReadFrom or Wait concurrently; because
// the record lives on disk, a reader started after a restart still sees every
// line written so far.
//
// Content is opaque. The channel guarantees ordered, complete delivery of
// appended lines and nothing about their meaning.
//
// Wait implements long polling with fsnotify: it blocks until the record grows
// past the caller's offset or the context ends. A slow ticker backs up the
// watcher on filesystems that do not deliver write events.
package progress
