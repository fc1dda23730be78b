package weather

import (
	"time"
)

// Station is a named physical measurement location.
type Station struct {
	Name string `json:"name"`
}

// MeasurementType names a measured quantity. DefaultUnit is captured from the
// first observation of the type and never overwritten.
type MeasurementType struct {
	Name        string `json:"name"`
	DefaultUnit string `json:"defaultUnit"`
}

// Measurement is a stored reading as returned by the read side.
type Measurement struct {
	StationName     string    `json:"stationName"`
	MeasurementType string    `json:"measurementType"`
	Value           float64   `json:"value"`
	Unit            string    `json:"unit"`
	TimestampUTC    time.Time `json:"timestampUtc"` // always UTC
}

// Candidate is a plain value record handed to the store for insertion.
// The store owns identity assignment.
type Candidate struct {
	StationName  string
	TypeName     string
	Value        float64
	Unit         string
	Status       string
	TimestampUTC time.Time
}

// Query selects measurements of one type in a date range, optionally for one station.
type Query struct {
	MeasurementType string
	Start           time.Time
	End             time.Time
	Station         string
}

// Response pairs an aggregation result with the dataset it was computed from.
type Response[T any] struct {
	Result  T             `json:"result"`
	Dataset []Measurement `json:"dataset"`
}

// Statistics summarizes one station/type over a normalized range.
type Statistics struct {
	StationName     string    `json:"stationName,omitempty"`
	MeasurementType string    `json:"measurementType"`
	Min             float64   `json:"min"`
	Max             float64   `json:"max"`
	Average         float64   `json:"average"`
	Count           int       `json:"count"`
	RangeStart      time.Time `json:"rangeStart"`
	RangeEnd        time.Time `json:"rangeEnd"`
}

// MeasurementFilter drives the paged raw listing for a single station.
type MeasurementFilter struct {
	Station    string
	Start      time.Time
	End        time.Time
	Descending bool
	Limit      int
	Offset     int
}
