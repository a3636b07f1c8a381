// Package main provides convctl, the operator CLI of the media converter.
//
// convctl works directly on the data directory of a server and reads the
// same environment variables (DATA_DIR, DATABASE_DIR, ...) the server does.
//
// # Usage
//
//	convctl <command> [flags]
//
// # Commands
//
//   - usage: List per-address usage from the ledger, largest first
//   - jobs [address]: List recent job records
//   - sweep: Remove progress records, artifacts and job rows older than the
//     retention
//   - purge: Empty the scratch directory and enforce the staging quotas;
//     asks for confirmation on a terminal unless --yes is given
//   - version: Print build information
//
// Both sweep and purge keep the files of jobs the database lists as running,
// and purge also keeps artifacts that succeeded within PROGRESS_RETENTION.
// An upload still being received has no job row yet, so purging while the
// server accepts uploads may remove it.
package main
