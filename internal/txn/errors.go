package txn

import "errors"

var ErrUnknownIsolation = errors.New("unknown isolation level")
