package store

import "errors"

// RecentMemoryLimit bounds the entries returned by LoadAgentMemory.
const RecentMemoryLimit = 12

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("store closed")
