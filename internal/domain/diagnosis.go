package domain

import "slices"

// MaxDiagnoses caps how many candidates a diagnosis set keeps.
const MaxDiagnoses = 3

// RankDiagnoses clamps probabilities to [0,100], sorts by descending probability and keeps
// at most MaxDiagnoses entries. The input is not modified.
func RankDiagnoses(in []Diagnosis) []Diagnosis {
	out := make([]Diagnosis, 0, len(in))
	for _, d := range in {
		d.Probability = min(max(d.Probability, 0), 100)
		if d.Symptoms == nil {
			d.Symptoms = []string{}
		}
		out = append(out, d)
	}
	slices.SortStableFunc(out, func(a, b Diagnosis) int {
		return b.Probability - a.Probability
	})
	if len(out) > MaxDiagnoses {
		out = out[:MaxDiagnoses]
	}
	return out
}
