// Package wire is the coordinator's only concern that touches raw
// bytes: everything above it (pkg/coordinator) deals exclusively in
// Message values and typed payload accessors.
package wire
