// Package output finalizes job artifacts for retrieval.
//
// Finalize takes the directory a job worked in and the stem of the file it
// produced, then:
//
//  1. locates the file, ignoring scratch files left by the tool
//  2. records its size in megabytes against the client address
//  3. derives a display name with Sanitize
//  4. moves it to <output dir>/<token>/<display name>
//  5. evicts the artifact that previously held the same slot
//  6. appends the display name to the pipeline's history log
//
// A slot is keyed by pipeline and session, so one client's new artifact never
// evicts another client's. Each artifact lives under its own token directory,
// which keeps two concurrent jobs from colliding on a name.
//
// Sweep applies retention: slots not written since the cutoff are emptied
// and their token directories removed, along with any token directory no
// slot holds, such as those left from before a restart.
//
// If the move to the display name fails the artifact is served under its
// working name instead; the job still succeeds.
package output
