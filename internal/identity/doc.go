// Package identity resolves user and group specifications into numeric ids.
//
// A Spec is either a numeric id or a symbolic name as the operator typed it.
// Resolver turns a user/group pair into an Identity through the narrow
// Database contract; System implements that contract on top of the host's
// passwd and group databases. Resolution never changes process state.
//
// Unknown names and ids surface as ErrNotFound. Every other database failure
// surfaces as ErrLookupFailed with the underlying cause attached.
package identity
