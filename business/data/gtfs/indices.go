package gtfs

import "fmt"

// Indices locates a leg of a vehicle's assignment: the block, the trip within the block, the stop path
// within the trip, and the segment within the stop path. Produced by spatial matching.
// Stop path 0 is the path leading to the first stop of the trip.
type Indices struct {
	BlockId       string `json:"block_id"`
	TripIndex     int    `json:"trip_index"`
	StopPathIndex int    `json:"stop_path_index"`
	SegmentIndex  int    `json:"segment_index"`
}

// AtBeginningOfTrip is true for the first stop path of a trip, which has no previous stop on the trip
func (i Indices) AtBeginningOfTrip() bool {
	return i.StopPathIndex == 0
}

// PreviousStopPath returns the Indices of the stop path before this one on the same trip.
// ok is false at the beginning of a trip.
func (i Indices) PreviousStopPath() (previous Indices, ok bool) {
	if i.AtBeginningOfTrip() {
		return i, false
	}
	return Indices{
		BlockId:       i.BlockId,
		TripIndex:     i.TripIndex,
		StopPathIndex: i.StopPathIndex - 1,
		SegmentIndex:  0,
	}, true
}

func (i Indices) String() string {
	return fmt.Sprintf("block:%s trip:%d stopPath:%d segment:%d", i.BlockId, i.TripIndex, i.StopPathIndex,
		i.SegmentIndex)
}
