package storage

import "errors"

// Writer-local and fatal error sentinels, per spec.md §7.
var (
	// ErrWriteFailure indicates a disk write error on the currently open
	// file; the file is closed and rotation is forced.
	ErrWriteFailure = errors.New("write failure")
	// ErrRotationFailure indicates the new file could not be opened
	// during rotation.
	ErrRotationFailure = errors.New("rotation failure")
	// ErrStorageUnwritable indicates storage_dir could not be created or
	// is not writable; fatal at startup.
	ErrStorageUnwritable = errors.New("storage directory unwritable")
	// ErrDiskFull indicates a filesystem-full condition; escalates to
	// shutdown.
	ErrDiskFull = errors.New("disk full")
)
