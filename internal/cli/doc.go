// Package cli implements the zflow command tree.
//
// Workflow commands, in order:
//
//	zflow build-image <target>
//	zflow run <target>
//	zflow build-firmware <project> [board]
//	zflow flash <port>
//	zflow monitor <port> [baud]
//
// Supporting commands: stop, status, ports, boards, projects, targets and
// serve. State is kept in .zflow/ so each command picks up where the
// previous one left off.
package cli
