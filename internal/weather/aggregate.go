package weather

// Highest returns the first measurement holding the maximum value, or nil
// when ms is empty. Ties keep the earliest element in enumeration order.
func Highest(ms []Measurement) *Measurement {
	return pick(ms, func(candidate, best float64) bool { return candidate > best })
}

// Lowest mirrors Highest for the minimum value.
func Lowest(ms []Measurement) *Measurement {
	return pick(ms, func(candidate, best float64) bool { return candidate < best })
}

func pick(ms []Measurement, better func(candidate, best float64) bool) *Measurement {
	if len(ms) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(ms); i++ {
		if better(ms[i].Value, ms[best].Value) {
			best = i
		}
	}
	m := ms[best]
	return &m
}

// Average returns the arithmetic mean of the values, or nil when ms is empty.
func Average(ms []Measurement) *float64 {
	if len(ms) == 0 {
		return nil
	}
	var sum float64
	for _, m := range ms {
		sum += m.Value
	}
	avg := sum / float64(len(ms))
	return &avg
}

func Count(ms []Measurement) int {
	return len(ms)
}

// FilterByStation keeps measurements of the named station, preserving order.
func FilterByStation(ms []Measurement, station string) []Measurement {
	out := make([]Measurement, 0, len(ms))
	for _, m := range ms {
		if m.StationName == station {
			out = append(out, m)
		}
	}
	return out
}

// Summarize computes min, max, mean and count in one pass. It returns nil for
// an empty dataset.
func Summarize(ms []Measurement) *Statistics {
	if len(ms) == 0 {
		return nil
	}
	stats := &Statistics{
		MeasurementType: ms[0].MeasurementType,
		Min:             ms[0].Value,
		Max:             ms[0].Value,
	}
	var sum float64
	for _, m := range ms {
		if m.Value < stats.Min {
			stats.Min = m.Value
		}
		if m.Value > stats.Max {
			stats.Max = m.Value
		}
		sum += m.Value
	}
	stats.Count = len(ms)
	stats.Average = sum / float64(len(ms))
	return stats
}
