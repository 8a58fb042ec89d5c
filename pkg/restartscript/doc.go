// Package restartscript emits the shell script a restart driver uses to
// relaunch every worker of a checkpointed computation. The header,
// check_local helper, usage text, argument parser, and single/multi-host
// processing bodies are reproduced from dmtcp_coordinator.cpp's
// theRestartScript* string constants: their content is part of the
// external interface and must match byte-for-byte.
package restartscript
