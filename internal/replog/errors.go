package replog

import "errors"

var (
	ErrOffsetConflict = errors.New("offset already holds a different message")
	ErrNegativeOffset = errors.New("negative offset")
	ErrNotLeader      = errors.New("replicate from non-leader")
)
