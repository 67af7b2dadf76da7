package sqlcgen

import "time"

type MapConfiguration struct {
	FrameX      float64
	FrameY      float64
	FrameW      float64
	FrameH      float64
	Styles      string
	Title       string
	Description string
	Metadata    string
	UpdatedAt   time.Time
}

type Station struct {
	ID    int64
	Name  string
	X     float64
	Y     float64
	Level int32
}

// Point is one vertex of a segment's jsonb point list.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Segment struct {
	ID     int64
	Shape  int32
	Line   int32
	Color  string
	Points []Point
}

type StationIcon struct {
	Level  int32
	Source string
}
