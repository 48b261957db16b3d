package campaign

import "errors"

var (
	errNoChannel     = errors.New("no rabbitmq channel available")
	errChannelClosed = errors.New("delivery channel closed")
)
