// Package quota bounds the disk space used by staged uploads, downloads and
// scratch output.
//
// Before a job starts the Enforcer:
//
//   - purges the scratch directory of every job directory that is not pinned
//   - sums the pipeline's staging directory (uploads for conversions,
//     downloads for downloads) and, when it is over the ceiling, removes every
//     entry that is neither pinned nor holding a live slot artifact
//
// Jobs pin their scratch and upload directories for as long as they run, and
// each directory is purged under its own mutex, so a purge never removes a
// file an in-flight job is writing. Files that cannot be removed are logged
// and counted and stay until the next pass; enforcement never fails a job.
package quota
