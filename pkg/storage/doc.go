// Package storage provides an optional, append-only audit log for the
// coordinator, backed by bbolt when a data directory is given (the
// coordinator passes its tmpdir) and a no-op otherwise. Per the coordinator's persistence contract, the
// only state that must survive a restart is the restart script and its
// symlink (written by pkg/restartscript); AuditLog exists purely so an
// operator can replay phase transitions, admissions, and checkpoint
// milestones after the fact. Nothing in the phase engine or event loop
// reads from it.
package storage
