package dte

import "sort"

// Gap tramo de folios sin emitir entre dos folios emitidos (ambos extremos incluidos).
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// SequenceReport resultado de ValidateSequence. Un hueco no es error (hay documentos anulados);
// un duplicado siempre es un defecto.
type SequenceReport struct {
	Gaps       []Gap   `json:"gaps"`
	Duplicates []int64 `json:"duplicates"`
}

// HasDuplicates indica si hay folios emitidos más de una vez.
func (r SequenceReport) HasDuplicates() bool { return len(r.Duplicates) > 0 }

// ValidateSequence revisa el historial de folios emitidos. No modifica la entrada.
func ValidateSequence(issued []int64) SequenceReport {
	report := SequenceReport{Gaps: []Gap{}, Duplicates: []int64{}}
	if len(issued) == 0 {
		return report
	}
	sorted := make([]int64, len(issued))
	copy(sorted, issued)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		switch {
		case cur == prev:
			if n := len(report.Duplicates); n == 0 || report.Duplicates[n-1] != cur {
				report.Duplicates = append(report.Duplicates, cur)
			}
		case cur > prev+1:
			report.Gaps = append(report.Gaps, Gap{From: prev + 1, To: cur - 1})
		}
	}
	return report
}
