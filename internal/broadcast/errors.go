package broadcast

import "errors"

var ErrUnknownTopology = errors.New("unknown topology mode")
