package session

// Range is the half-open byte interval [Start, End).
type Range struct {
	Start int64
	End   int64
}

func (r Range) Len() int64 {
	return r.End - r.Start
}

// RangeSet is a sorted list of disjoint, non-adjacent ranges.
type RangeSet struct {
	ranges []Range
}

func (rs *RangeSet) Add(r Range) {
	if r.Len() <= 0 {
		return
	}

	merged := make([]Range, 0, len(rs.ranges)+1)
	inserted := false

	for _, existing := range rs.ranges {
		switch {
		case existing.End < r.Start:
			merged = append(merged, existing)

		case r.End < existing.Start:
			if !inserted {
				merged = append(merged, r)
				inserted = true
			}
			merged = append(merged, existing)

		default:
			r.Start = min(r.Start, existing.Start)
			r.End = max(r.End, existing.End)
		}
	}

	if !inserted {
		merged = append(merged, r)
	}

	rs.ranges = merged
}

// Covers reports whether every byte of r has been added.
func (rs *RangeSet) Covers(r Range) bool {
	if r.Len() <= 0 {
		return true
	}

	for _, existing := range rs.ranges {
		if existing.Start <= r.Start && r.End <= existing.End {
			return true
		}
	}

	return false
}

// Intersections returns the parts of r that have already been added.
func (rs *RangeSet) Intersections(r Range) []Range {
	var result []Range
	for _, existing := range rs.ranges {
		start := max(existing.Start, r.Start)
		end := min(existing.End, r.End)
		if start < end {
			result = append(result, Range{Start: start, End: end})
		}
	}

	return result
}

// Missing returns the gaps in [0, size).
func (rs *RangeSet) Missing(size int64) []Range {
	var result []Range
	cursor := int64(0)

	for _, existing := range rs.ranges {
		if existing.Start > cursor {
			result = append(result, Range{Start: cursor, End: min(existing.Start, size)})
		}
		cursor = max(cursor, existing.End)
		if cursor >= size {
			break
		}
	}

	if cursor < size {
		result = append(result, Range{Start: cursor, End: size})
	}

	return result
}

func (rs *RangeSet) Total() int64 {
	total := int64(0)
	for _, existing := range rs.ranges {
		total += existing.Len()
	}

	return total
}

func (rs *RangeSet) Ranges() []Range {
	result := make([]Range, len(rs.ranges))
	copy(result, rs.ranges)
	return result
}
