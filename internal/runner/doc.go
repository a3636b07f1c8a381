// Package runner executes the external tools behind each job.
//
// A Runner starts ffmpeg or the downloader with exec.CommandContext, passing
// every argument as a separate argv element. Standard output is split into
// lines and appended, in order, to the job's progress sink. Standard error is
// kept in a bounded tail buffer and becomes the failure diagnostic.
//
// Every run is bounded by the configured timeout. Results are values, not
// errors: a crash, non-zero exit, kill or timeout produces a Result with a
// failure Kind and the captured diagnostic text.
//
// Downloads run in two phases. The first asks the downloader for the final
// file name without downloading, which gives the file stem; the second
// performs the download. The extension is discovered afterwards by looking
// for the stem in the output directory, ignoring the scratch files listed in
// filesystem.ScratchSuffixes.
package runner
