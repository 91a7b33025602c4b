package store

import "testing"

func TestStageValid(t *testing.T) {
	valid := []Stage{StageScraped, StageAIWritten, StageAIReviewed, StageHumanApproved, StageFinalEdited, StagePublished}
	for _, stage := range valid {
		if !stage.Valid() {
			t.Errorf("expected %s to be valid", stage)
		}
	}
	for _, stage := range []Stage{"", "edited", "SCRAPED", "draft"} {
		if stage.Valid() {
			t.Errorf("expected %q to be invalid", stage)
		}
	}
}

func TestStageTransitions(t *testing.T) {
	cases := []struct {
		from    Stage
		to      Stage
		allowed bool
	}{
		{"", StageScraped, true},
		{"", StageAIWritten, false},
		{StageScraped, StageAIWritten, true},
		{StageScraped, StageFinalEdited, false},
		{StageAIWritten, StageAIWritten, true}, // revise loop
		{StageAIWritten, StageAIReviewed, true},
		{StageAIWritten, StageHumanApproved, true},
		{StageAIReviewed, StageAIWritten, true},
		{StageAIReviewed, StageHumanApproved, true},
		{StageHumanApproved, StageFinalEdited, true},
		{StageHumanApproved, StagePublished, false},
		{StageFinalEdited, StagePublished, true},
		{StagePublished, StageScraped, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.allowed {
			t.Errorf("CanAdvanceTo(%q -> %q) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}
