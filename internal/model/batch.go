package model

import "time"

// SlotState is the tri-state of one position slot in a PendingBatch.
type SlotState int

const (
	SlotMissing SlotState = iota
	SlotSkip
	SlotPresent
)

// Slot is one position's tri-state entry in a PendingBatch.
type Slot struct {
	State    SlotState
	Response *PositionResponse
}

// IncomingBatch is a freshly acquired batch, already sliced into
// chunks but not yet pushed onto the ready queue.
type IncomingBatch struct {
	Work     Work
	URL      *string
	Flavor   EngineFlavor
	Variant  string
	Chunks   []Chunk
	NumSlots int
}

// PendingBatch is a batch mid-flight: some slots filled, some not (I1, I2).
type PendingBatch struct {
	Work     Work
	URL      *string
	Flavor   EngineFlavor
	Variant  string
	Slots    map[PositionIndex]*Slot
	NumSlots int

	TotalNodes   uint64
	TotalCPUTime time.Duration
}

// NewPendingBatch builds an empty PendingBatch with numSlots slots,
// all initially SlotMissing (I1).
func NewPendingBatch(work Work, url *string, flavor EngineFlavor, variant string, numSlots int) *PendingBatch {
	slots := make(map[PositionIndex]*Slot, numSlots)
	for i := 0; i < numSlots; i++ {
		slots[i] = &Slot{State: SlotMissing}
	}
	return &PendingBatch{
		Work:     work,
		URL:      url,
		Flavor:   flavor,
		Variant:  variant,
		Slots:    slots,
		NumSlots: numSlots,
	}
}

// MarkSkip marks slot i as server-skipped.
func (b *PendingBatch) MarkSkip(i PositionIndex) {
	if s, ok := b.Slots[i]; ok {
		s.State = SlotSkip
	}
}

// Merge folds a position response into the matching slot (I2) and
// accumulates the batch's running totals. A response with a nil index
// (a context position) is added to the totals but fills no slot.
func (b *PendingBatch) Merge(resp *PositionResponse) {
	b.TotalNodes += resp.Nodes
	b.TotalCPUTime += resp.Time
	if resp.PositionIndex == nil {
		return
	}
	if s, ok := b.Slots[*resp.PositionIndex]; ok {
		s.State = SlotPresent
		s.Response = resp
	}
}

// IsComplete reports whether every slot is Skip or Present (I2).
func (b *PendingBatch) IsComplete() bool {
	for _, s := range b.Slots {
		if s.State == SlotMissing {
			return false
		}
	}
	return true
}

// IsAllSkip reports whether every slot is SlotSkip.
func (b *PendingBatch) IsAllSkip() bool {
	for _, s := range b.Slots {
		if s.State != SlotSkip {
			return false
		}
	}
	return true
}

// CompletedBatch is a PendingBatch whose every slot is filled,
// ordered by position index for submission.
type CompletedBatch struct {
	Work         Work
	URL          *string
	Flavor       EngineFlavor
	Variant      string
	Slots        []*Slot // index i == position i
	TotalNodes   uint64
	TotalCPUTime time.Duration
}

// Complete converts a fully-filled PendingBatch into a CompletedBatch.
// Callers must check IsComplete first.
func (b *PendingBatch) Complete() CompletedBatch {
	ordered := make([]*Slot, b.NumSlots)
	for i := 0; i < b.NumSlots; i++ {
		ordered[i] = b.Slots[i]
	}
	return CompletedBatch{
		Work:         b.Work,
		URL:          b.URL,
		Flavor:       b.Flavor,
		Variant:      b.Variant,
		Slots:        ordered,
		TotalNodes:   b.TotalNodes,
		TotalCPUTime: b.TotalCPUTime,
	}
}
