// Package queue holds the per-room queue caches.
package queue

import "errors"

var ErrClosed = errors.New("queue store closed")
