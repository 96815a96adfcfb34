package strategies

import "context"

// NoopStrategy does nothing. Sessions run with it when trades are only
// placed by hand.
type NoopStrategy struct{}

func (NoopStrategy) OnTick(context.Context, Broker, Tick) error {
	return nil
}
