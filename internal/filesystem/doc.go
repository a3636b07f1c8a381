/*
Package filesystem provides the directory plumbing used by the job pipeline:
sizing a directory, purging its contents, locating the file an external tool
produced, and removing files with retry for transient failures.

# Retry Behavior

Removal and stat operations retry with exponential backoff when the error is
transient (ESTALE on NFS mounts, EBUSY or ETXTBSY while a tool is still
exiting). All other errors fail immediately. Defaults:
  - MaxRetries: 3 attempts
  - InitialBackoff: 50ms
  - MaxBackoff: 500ms

# Purging

PurgeDir never aborts part way. A file that cannot be removed is reported in
PurgeResult.Failed and left behind for the next pass.

# Metrics

Operations are reported through an Observer registered with SetObserver,
labeled by the directory name resolved with a VolumeResolver. Without an
observer nothing is recorded, which keeps tests free of global state.
*/
package filesystem
