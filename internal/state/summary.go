package state

import (
	"sort"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

// AlternativeShare is how often one alternative was chosen.
type AlternativeShare struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Share float64 `json:"share"`
}

// SegmentSummary aggregates one segment's responses.
type SegmentSummary struct {
	SegmentID string         `json:"segment_id"`
	Total     int            `json:"total"`
	Errors    int            `json:"errors"`
	Choices   map[string]int `json:"choices"`
}

// Summary aggregates the responses of a run.
type Summary struct {
	Total          int                `json:"total"`
	Errors         int                `json:"errors"`
	NoChoice       int                `json:"no_choice"`
	MeanConfidence float64            `json:"mean_confidence"`
	Alternatives   []AlternativeShare `json:"alternatives"`
	Segments       []SegmentSummary   `json:"segments"`
}

// Summarize computes choice shares over the non-error responses. Every
// alternative in alternatives is listed even when nobody chose it; chosen
// alternatives missing from the list are appended. Shares are over valid
// (non-error) responses, with NONE counted in the denominator.
func Summarize(responses []models.Response, alternatives []models.Alternative) Summary {
	s := Summary{Total: len(responses)}

	counts := make(map[string]int)
	names := make(map[string]string)
	order := make([]string, 0, len(alternatives))
	for _, a := range alternatives {
		if _, seen := names[a.ID]; !seen {
			order = append(order, a.ID)
		}
		names[a.ID] = a.Name
	}

	segments := make(map[string]*SegmentSummary)
	var confSum float64
	valid := 0

	for _, r := range responses {
		seg, ok := segments[r.SegmentID]
		if !ok {
			seg = &SegmentSummary{SegmentID: r.SegmentID, Choices: make(map[string]int)}
			segments[r.SegmentID] = seg
		}
		seg.Total++

		if r.Error {
			s.Errors++
			seg.Errors++
			continue
		}
		valid++
		confSum += r.Confidence

		if r.ChosenAlternativeID == nil {
			s.NoChoice++
			seg.Choices[models.NoChoice]++
			continue
		}
		id := *r.ChosenAlternativeID
		if _, known := names[id]; !known {
			order = append(order, id)
			names[id] = ""
			if r.ChosenAlternativeName != nil {
				names[id] = *r.ChosenAlternativeName
			}
		}
		counts[id]++
		seg.Choices[id]++
	}

	if valid > 0 {
		s.MeanConfidence = confSum / float64(valid)
	}

	s.Alternatives = make([]AlternativeShare, 0, len(order))
	for _, id := range order {
		share := AlternativeShare{ID: id, Name: names[id], Count: counts[id]}
		if valid > 0 {
			share.Share = float64(share.Count) / float64(valid)
		}
		s.Alternatives = append(s.Alternatives, share)
	}
	sort.SliceStable(s.Alternatives, func(i, j int) bool {
		return s.Alternatives[i].Count > s.Alternatives[j].Count
	})

	s.Segments = make([]SegmentSummary, 0, len(segments))
	for _, seg := range segments {
		s.Segments = append(s.Segments, *seg)
	}
	sort.Slice(s.Segments, func(i, j int) bool {
		return s.Segments[i].SegmentID < s.Segments[j].SegmentID
	})
	return s
}
