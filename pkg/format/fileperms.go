package format

import "io/fs"

// Common file permission constants used throughout the application.
// These constants provide named values for file and directory permissions
// instead of using magic numbers.
const (
	// DirUserOnly is for directories holding findings, queues and ledgers (rwx------)
	DirUserOnly fs.FileMode = 0700

	// FileUserReadWrite is for files that should only be readable by owner (rw-------)
	// Used for the store, audit log, feedback ledger and log files
	FileUserReadWrite fs.FileMode = 0600
)
