package ffsp

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrNotFound is returned when a path component does not exist.
	ErrNotFound = errors.New("ffsp: no such file or directory")

	// ErrNotDir is returned when a path component that is expected to be
	// a directory turns out to be something else.
	ErrNotDir = errors.New("ffsp: not a directory")

	// ErrNotEmpty is returned by rmdir when the target directory still
	// contains entries other than "." and "..".
	ErrNotEmpty = errors.New("ffsp: directory not empty")

	// ErrPermission is returned by operations that would mutate the
	// medium on a read-only mount.
	ErrPermission = errors.New("ffsp: operation not permitted")

	// ErrInvalidArgument is returned for negative offsets or other
	// malformed inputs.
	ErrInvalidArgument = errors.New("ffsp: invalid argument")

	// ErrNoSpace is returned when the inode map is exhausted or an
	// allocation would dip the empty erase block count below the reserve.
	ErrNoSpace = errors.New("ffsp: no space left on device")

	// ErrTooLarge is returned by write/truncate beyond max_ebin.
	ErrTooLarge = errors.New("ffsp: file too large")

	// ErrIO is returned on backend failure or internal consistency check.
	ErrIO = errors.New("ffsp: I/O error")

	// ErrOverflow is the error kind for a byte count or offset that
	// exceeds platform signed limits. No operation in this package
	// returns it.
	ErrOverflow = errors.New("ffsp: value too large for defined data type")

	// ErrInvalidSuper is returned when the superblock magic or fixed
	// fields don't describe a valid ffsp volume.
	ErrInvalidSuper = errors.New("ffsp: invalid superblock")

	// ErrNotSupported is returned by operations this revision does not
	// implement.
	ErrNotSupported = errors.New("ffsp: operation not supported")

	// ErrExists is returned by mknod/mkdir/symlink/link/rename when the
	// target name is already in use in a way the operation can't resolve.
	ErrExists = errors.New("ffsp: file exists")

	// ErrIsDir is returned when an operation that rejects directories
	// (unlink, rename of a non-directory onto a directory) is given one.
	ErrIsDir = errors.New("ffsp: is a directory")
)
