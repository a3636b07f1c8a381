// Package params turns user-submitted job fields into an InvocationSpec.
//
// Resolution is a pure mapping: nothing here touches the filesystem or starts
// a process. Every option value ends up as exactly one argv element for the
// external tool; no value is ever joined into a shell command line.
//
// Conversions are described per codec (see ResolveConversion). Downloads are
// described per kind (see ResolveDownload). Failures wrap ErrInvalidParameters
// and carry the offending field in a *ValidationError.
package params
