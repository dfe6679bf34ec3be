package model

import "math"

// OverallScore is the arithmetic mean of the current per-question scores,
// rounded to the nearest integer. It is computed on read so partial grading
// and instructor edits are reflected immediately. The second return is false
// when no grades exist: an ungraded session is not a zero-scored one.
func OverallScore(grades []Grade) (int, bool) {
	if len(grades) == 0 {
		return 0, false
	}
	sum := 0
	for _, g := range grades {
		sum += g.Score
	}
	return int(math.Round(float64(sum) / float64(len(grades)))), true
}
