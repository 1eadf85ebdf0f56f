package models

// Candidate is one sampled output during voting. Candidates are transient;
// only the winner is persisted beyond the vote snapshot rows.
type Candidate struct {
	// Model is the "providerType:modelName" reference that produced the sample.
	Model string `json:"model"`
	// Output is the raw sampled output.
	Output string `json:"output"`
	// RedFlags lists reason codes that disqualified this candidate, if any.
	RedFlags []string `json:"red_flags,omitempty"`
	// Votes is the tally count for this exact output at exit time.
	Votes int `json:"votes"`
	// SampleIndex is the zero-based sample number within the voting loop.
	SampleIndex int `json:"sample_index"`
	// Temperature is the sampling temperature used for this sample.
	Temperature float64 `json:"temperature"`
}

// Flagged returns true if the candidate was disqualified by red flags.
func (c Candidate) Flagged() bool {
	return len(c.RedFlags) > 0
}

// VoteResult is the outcome of one voting-engine invocation.
type VoteResult struct {
	// Winner is the consensus output, empty when no winner emerged.
	Winner string `json:"winner"`
	// HasWinner distinguishes an empty winning output from no winner at all.
	HasWinner bool `json:"has_winner"`
	// AchievedMargin is true when the lead-by-k margin was met before the cap.
	AchievedMargin bool `json:"achieved_margin"`
	// LeadBy is leaderVotes - runnerUpVotes at exit.
	LeadBy int `json:"lead_by"`
	// Samples is the number of provider calls made.
	Samples int `json:"samples"`
	// Candidates lists every sample, including flagged ones.
	Candidates []Candidate `json:"candidates"`
}
