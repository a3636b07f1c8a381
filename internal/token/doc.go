// Package token issues job tokens.
//
// A token names a job's progress record and correlates poll requests with the
// job that produced them. Tokens combine a UUIDv7 (millisecond timestamp plus
// random bits) with a process-wide counter, so two tokens issued in the same
// instant by the same process still differ. Tokens are lower-case and contain
// only characters that are safe to use as a single path element.
package token
