package interfaces

import "context"

// Job is a unit of work run on a connection's serial lane.
type Job func(ctx context.Context)

// Poster queues jobs onto per-connection lanes. Jobs submitted to the same lane
// run one at a time in submission order.
type Poster interface {
	Submit(laneID string, job Job) error
}
