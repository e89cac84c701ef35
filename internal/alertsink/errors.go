package alertsink

import "errors"

// ErrSinkClosed is returned by Register after Close.
var ErrSinkClosed = errors.New("alertsink: sink closed")
