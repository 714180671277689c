// Package traffic implements the congestion scoring, priority ranking and
// signal control core of the intersection service. Detection input arrives
// from an external oracle as per-frame vehicle observations; the package
// aggregates them into rolling per-lane windows, ranks the lanes, and
// drives the four-way signal state machine.
package traffic

import (
	"errors"
	"fmt"
)

// NumLanes is the number of approaches managed at the intersection.
const NumLanes = 4

// LaneID identifies one of the four fixed approaches. Valid values are
// 0 through NumLanes-1.
type LaneID int

const (
	LaneNorth LaneID = iota
	LaneSouth
	LaneEast
	LaneWest
)

var laneNames = [NumLanes]string{"North", "South", "East", "West"}

// ErrInvalidLane reports a lane id outside [0, NumLanes).
var ErrInvalidLane = errors.New("invalid lane id")

// ErrNoData reports that no lane data is available for analysis.
var ErrNoData = errors.New("no analysis available")

// ErrAlreadyRunning reports a second Run on an active loop.
var ErrAlreadyRunning = errors.New("loop already running")

// Valid reports whether the lane id addresses a configured approach.
func (id LaneID) Valid() bool {
	return id >= 0 && id < NumLanes
}

// String returns the compass name of the lane, or a placeholder for
// out-of-range ids.
func (id LaneID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("Lane %d", int(id))
	}
	return laneNames[id]
}

// Lanes returns all lane ids in fixed order.
func Lanes() [NumLanes]LaneID {
	return [NumLanes]LaneID{LaneNorth, LaneSouth, LaneEast, LaneWest}
}

// VehicleClass is a detector class label from the COCO-derived taxonomy.
type VehicleClass string

const (
	ClassCar        VehicleClass = "car"
	ClassMotorcycle VehicleClass = "motorcycle"
	ClassBicycle    VehicleClass = "bicycle"
	ClassBus        VehicleClass = "bus"
	ClassTruck      VehicleClass = "truck"
	ClassTrain      VehicleClass = "train"
	ClassBoat       VehicleClass = "boat"
)

// BoundingBox is a detector box in pixel coordinates, X1<X2 and Y1<Y2.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Area returns the box area in pixels.
func (b BoundingBox) Area() int {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Detection is one observed vehicle in one frame, as reported by the
// external detection oracle.
type Detection struct {
	Box        BoundingBox  `json:"box"`
	Class      VehicleClass `json:"class"`
	Confidence float64      `json:"confidence"`
}

// CountByClass tallies a set of detections by vehicle class.
func CountByClass(dets []Detection) map[VehicleClass]int {
	if len(dets) == 0 {
		return nil
	}
	counts := make(map[VehicleClass]int, 4)
	for _, d := range dets {
		counts[d.Class]++
	}
	return counts
}
