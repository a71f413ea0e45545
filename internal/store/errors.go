package store

import "errors"

var (
	// ErrFetchFailed marks a failed historical load or lookup. Recoverable:
	// prior state stays intact and the caller may retry.
	ErrFetchFailed = errors.New("store: fetch failed")

	// ErrSendFailed marks a failed optimistic send. Exactly the one
	// optimistic entry has been rolled back.
	ErrSendFailed = errors.New("store: send failed")

	// ErrSuperseded is returned when another room was opened while the
	// operation was in flight; its results were discarded.
	ErrSuperseded = errors.New("store: superseded by a newer room")

	// ErrNoRoom is returned for operations that need an open room.
	ErrNoRoom = errors.New("store: no open room")

	// ErrNotFound is returned for operations on an unknown message.
	ErrNotFound = errors.New("store: message not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)
