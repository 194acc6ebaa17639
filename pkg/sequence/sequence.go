package sequence

import (
	"encoding/json"
	"fmt"
)

// Open marks a range with no upper bound.
const Open int64 = -1

// Range is a closed range of seqno values. End == Open means the range
// is unbounded above.
type Range struct {
	Start int64
	End   int64
}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v int64) bool {
	return v >= r.Start && (r.End == Open || v <= r.End)
}

// Sequence is a list of sorted non-overlapping ranges. The zero value is
// an empty sequence; use NewInitial for sequences whose initial state is
// a preset range, e.g. [[1,nil]] for "everything is pending".
type Sequence struct {
	ranges  []Range
	initial []Range
}

// New returns a sequence holding the given ranges.
func New(ranges ...Range) *Sequence {
	seq := &Sequence{}
	for _, r := range ranges {
		seq.Include(r.Start, r.End)
	}
	return seq
}

// NewInitial returns a sequence whose empty state is the given range.
// Clear resets back to it and Empty compares against it.
func NewInitial(start, end int64) *Sequence {
	seq := &Sequence{initial: []Range{{start, end}}}
	seq.Clear()
	return seq
}

// Clone returns a deep copy.
func (s *Sequence) Clone() *Sequence {
	clone := &Sequence{
		ranges:  append([]Range(nil), s.ranges...),
		initial: s.initial,
	}
	return clone
}

// Ranges returns a copy of the held ranges in order.
func (s *Sequence) Ranges() []Range {
	return append([]Range(nil), s.ranges...)
}

// Len returns the number of held ranges.
func (s *Sequence) Len() int {
	return len(s.ranges)
}

// Empty reports whether the sequence is in its initial state.
func (s *Sequence) Empty() bool {
	if len(s.ranges) != len(s.initial) {
		return false
	}
	for i, r := range s.ranges {
		if r != s.initial[i] {
			return false
		}
	}
	return true
}

// Clear resets the sequence to its initial state.
func (s *Sequence) Clear() {
	s.ranges = append(s.ranges[:0:0], s.initial...)
}

// Contains reports whether v is included.
func (s *Sequence) Contains(v int64) bool {
	for _, r := range s.ranges {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

// First returns the lowest included value, or 0 for an empty sequence.
func (s *Sequence) First() int64 {
	if len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[0].Start
}

// Last returns the upper bound of the last range, Open if unbounded,
// or 0 for an empty sequence.
func (s *Sequence) Last() int64 {
	if len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[len(s.ranges)-1].End
}

// Include unions [start, end] into the sequence, merging adjacent
// ranges. Pass Open as end for an unbounded range.
func (s *Sequence) Include(start, end int64) {
	if start <= 0 && start != Open {
		start = 1
	}
	s.include(start, end)
}

// IncludeSeq unions every range of other.
func (s *Sequence) IncludeSeq(other *Sequence) {
	if other == nil {
		return
	}
	for _, r := range other.ranges {
		s.include(r.Start, r.End)
	}
}

// Exclude subtracts [start, end] from the sequence. The end must be
// bounded.
func (s *Sequence) Exclude(start, end int64) error {
	if start <= 0 {
		start = 1
	}
	if end == Open {
		return fmt.Errorf("cannot exclude an unbounded range")
	}
	if start > end {
		return fmt.Errorf("exclude range [%d, %d] is inverted", start, end)
	}
	s.exclude(start, end)
	return nil
}

// ExcludeSeq subtracts every range of other.
func (s *Sequence) ExcludeSeq(other *Sequence) error {
	if other == nil {
		return nil
	}
	for _, r := range other.ranges {
		if err := s.Exclude(r.Start, r.End); err != nil {
			return err
		}
	}
	return nil
}

// Floor truncates the sequence so that no range ends above end.
func (s *Sequence) Floor(end int64) {
	cut := -1
	for i, r := range s.ranges {
		if r.Start > end {
			cut = i
			break
		}
		if r.End == Open || r.End >= end {
			s.ranges[i].End = end
			cut = i + 1
			break
		}
	}
	if cut >= 0 && cut < len(s.ranges) {
		s.ranges = s.ranges[:cut]
	}
}

func (s *Sequence) include(start, end int64) {
	if start == Open {
		start = 1
	}

	const unset = int64(-2)
	newStart := unset
	i := 0
	for ; i < len(s.ranges); i++ {
		r := s.ranges[i]
		if end != Open && r.Start-1 > end {
			break
		}
		if (end == Open || r.Start-1 <= end) &&
			(r.End == Open || r.End+1 >= start) {
			newStart = min64(r.Start, start)
			break
		}
	}

	if newStart == unset {
		s.insert(i, Range{start, end})
		return
	}

	newEnd := end
	endI := i
	for j := i; j < len(s.ranges); j++ {
		r := s.ranges[j]
		if end != Open && r.Start-1 > end {
			break
		}
		if end == Open || r.End == Open {
			newEnd = Open
		} else {
			newEnd = max64(r.End, end)
		}
		endI = j
	}

	s.ranges = append(s.ranges[:i], s.ranges[endI:]...)
	s.ranges[i] = Range{newStart, newEnd}
}

func (s *Sequence) exclude(start, end int64) {
	for i := 0; i < len(s.ranges); i++ {
		r := s.ranges[i]
		if r.End != Open && r.End < start {
			continue
		}
		if r.End == Open || r.End > end {
			// The range survives the exclusion
			s.ranges[i] = Range{end + 1, r.End}
			if r.Start < start {
				s.insert(i, Range{r.Start, start - 1})
			}
		} else {
			if r.Start < start {
				s.ranges[i] = Range{r.Start, start - 1}
			} else {
				s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
			}
		}
		if r.End != Open {
			start = r.End + 1
			if start <= end {
				s.exclude(start, end)
			}
		}
		break
	}
}

func (s *Sequence) insert(i int, r Range) {
	s.ranges = append(s.ranges, Range{})
	copy(s.ranges[i+1:], s.ranges[i:])
	s.ranges[i] = r
}

// MarshalJSON encodes the sequence as [[start, end|null], ...], the wire
// format shared with packets and sync cookies.
func (s *Sequence) MarshalJSON() ([]byte, error) {
	out := make([][2]*int64, 0, len(s.ranges))
	for _, r := range s.ranges {
		r := r
		pair := [2]*int64{&r.Start, nil}
		if r.End != Open {
			pair[1] = &r.End
		}
		out = append(out, pair)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the [[start, end|null], ...] form.
func (s *Sequence) UnmarshalJSON(data []byte) error {
	var in [][2]*int64
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.ranges = s.ranges[:0]
	for _, pair := range in {
		if pair[0] == nil {
			return fmt.Errorf("range start cannot be null")
		}
		r := Range{Start: *pair[0], End: Open}
		if pair[1] != nil {
			r.End = *pair[1]
		}
		s.include(r.Start, r.End)
	}
	return nil
}

func (s *Sequence) String() string {
	data, _ := json.Marshal(s)
	return string(data)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
