package state

import (
	"math"
	"testing"

	"github.com/ShayCichocki/choicesim/pkg/models"
)

func TestSummarize(t *testing.T) {
	alts := []models.Alternative{
		{ID: "bus", Name: "Bus"},
		{ID: "bike", Name: "Bike"},
		{ID: "car", Name: "Car"},
	}
	responses := []models.Response{
		{SegmentID: "a", ChosenAlternativeID: strPtr("bike"), Confidence: 0.5},
		{SegmentID: "a", ChosenAlternativeID: strPtr("bike"), Confidence: 0.7},
		{SegmentID: "b", ChosenAlternativeID: strPtr("bus"), Confidence: 0.9},
		{SegmentID: "b", Confidence: 0.3},
		{SegmentID: "b", Error: true},
	}

	s := Summarize(responses, alts)

	if s.Total != 5 || s.Errors != 1 || s.NoChoice != 1 {
		t.Errorf("totals = %d/%d/%d, want 5/1/1", s.Total, s.Errors, s.NoChoice)
	}
	if math.Abs(s.MeanConfidence-0.6) > 1e-9 {
		t.Errorf("MeanConfidence = %v, want 0.6", s.MeanConfidence)
	}

	wantOrder := []struct {
		id    string
		count int
		share float64
	}{
		{"bike", 2, 0.5},
		{"bus", 1, 0.25},
		{"car", 0, 0},
	}
	if len(s.Alternatives) != len(wantOrder) {
		t.Fatalf("alternatives = %+v", s.Alternatives)
	}
	for i, w := range wantOrder {
		got := s.Alternatives[i]
		if got.ID != w.id || got.Count != w.count || math.Abs(got.Share-w.share) > 1e-9 {
			t.Errorf("alternatives[%d] = %+v, want %s/%d/%v", i, got, w.id, w.count, w.share)
		}
	}

	if len(s.Segments) != 2 {
		t.Fatalf("segments = %+v", s.Segments)
	}
	b := s.Segments[1]
	if b.SegmentID != "b" || b.Total != 3 || b.Errors != 1 {
		t.Errorf("segment b = %+v", b)
	}
	if b.Choices[models.NoChoice] != 1 || b.Choices["bus"] != 1 {
		t.Errorf("segment b choices = %v", b.Choices)
	}
}

func TestSummarize_UnlistedAlternative(t *testing.T) {
	responses := []models.Response{
		{SegmentID: "a", ChosenAlternativeID: strPtr("tram"), ChosenAlternativeName: strPtr("Tram")},
	}
	s := Summarize(responses, nil)
	if len(s.Alternatives) != 1 || s.Alternatives[0].Name != "Tram" || s.Alternatives[0].Share != 1 {
		t.Errorf("alternatives = %+v", s.Alternatives)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, []models.Alternative{{ID: "bus"}})
	if s.Total != 0 || s.MeanConfidence != 0 {
		t.Errorf("summary = %+v", s)
	}
	if len(s.Alternatives) != 1 || s.Alternatives[0].Share != 0 {
		t.Errorf("alternatives = %+v", s.Alternatives)
	}
}
