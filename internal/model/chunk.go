package model

import "time"

// Chunk is the unit handed to a single engine invocation: a bounded
// run of positions sharing one engine process's hash table (I3, I4).
type Chunk struct {
	Work      *Work
	Flavor    EngineFlavor
	Variant   string
	Deadline  time.Time
	Positions []Position
}

// BatchID returns the id of the batch this chunk belongs to.
func (c Chunk) BatchID() BatchID {
	if c.Work == nil {
		return ""
	}
	return c.Work.ID
}
