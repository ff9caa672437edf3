package domain

// Strategy names an evaluation judge.
type Strategy string

const (
	StrategyAIJudge            Strategy = "AI_JUDGE"
	StrategySemanticSimilarity Strategy = "SEMANTIC_SIMILARITY"
)

// Sample is a past interaction of the same source used as a reference
// answer during evaluation.
type Sample struct {
	Name           string `json:"name"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// SampleResult is the verdict for one expected output.
type SampleResult struct {
	Name           string  `json:"name"`
	Input          string  `json:"input"`
	ExpectedOutput string  `json:"expected_output"`
	Passed         bool    `json:"passed"`
	Score          float64 `json:"score"`
	// Detail carries the judge reply or the raw similarity.
	Detail string `json:"detail,omitempty"`
}

// EvaluationReport is the structured outcome of an evaluation run.
type EvaluationReport struct {
	Strategy  Strategy       `json:"strategy"`
	Threshold float64        `json:"threshold,omitempty"`
	Samples   []SampleResult `json:"samples"`
	Score     float64        `json:"score"`
	Passed    bool           `json:"passed"`
}

// RescoreResult pairs a persisted RESCORE score with the report that produced
// it. It is never stored.
type RescoreResult struct {
	Score  Score            `json:"score"`
	Report EvaluationReport `json:"report"`
}

// BelowThreshold reports whether the evaluation did not pass.
func (r RescoreResult) BelowThreshold() bool {
	return !r.Report.Passed
}
