// Package stdio rebinds the standard streams of a detaching process.
//
// Each of stdin, stdout and stderr independently inherits, points at the null
// device, or points at a file the caller already opened. The package never
// opens caller files itself.
package stdio
