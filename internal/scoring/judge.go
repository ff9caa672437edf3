package scoring

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
)

// JudgePrompt is the prompt sent to the AI judge. {response} and
// {expected_output} are replaced before sending.
const JudgePrompt = `You are an AI evaluating a response and the expected output.
You need to evaluate whether the response is correct or not.
Return true if the response is correct, false otherwise.

Response to evaluate: {response}
Expected output: {expected_output}
`

// DefaultSimilarityThreshold is the minimum similarity, on a 0-100 scale,
// for a sample to pass.
const DefaultSimilarityThreshold = 75.0

// DefaultPassThreshold is the share of passing samples, on a 0-100 scale, an
// evaluation needs when no threshold is configured.
const DefaultPassThreshold = 75.0

const (
	passScore = 100.0
	failScore = 0.0
)

func verdictScore(passed bool) float64 {
	if passed {
		return passScore
	}
	return failScore
}

// AIJudge asks a chat model whether an output is correct given an expected
// output.
type AIJudge struct {
	model  ports.ChatModel
	prompt string
}

var _ ports.Judge = (*AIJudge)(nil)

// NewAIJudge creates an AI judge using JudgePrompt.
func NewAIJudge(model ports.ChatModel) *AIJudge {
	return &AIJudge{model: model, prompt: JudgePrompt}
}

func (j *AIJudge) Strategy() domain.Strategy { return domain.StrategyAIJudge }

// Judge renders the prompt and parses the model's true/false verdict.
func (j *AIJudge) Judge(ctx context.Context, output, expected string) (domain.SampleResult, error) {
	prompt := strings.NewReplacer(
		"{response}", output,
		"{expected_output}", expected,
	).Replace(j.prompt)

	reply, err := j.model.Complete(ctx, prompt)
	if err != nil {
		return domain.SampleResult{}, modelFailure("judge", err)
	}
	passed, err := parseVerdict(reply)
	if err != nil {
		return domain.SampleResult{}, modelFailure("judge", err)
	}
	return domain.SampleResult{
		ExpectedOutput: expected,
		Passed:         passed,
		Score:          verdictScore(passed),
		Detail:         strings.TrimSpace(reply),
	}, nil
}

// parseVerdict finds the first true or false word in a judge reply. Replies
// are NFKC-normalized first so full-width and styled letters still match.
func parseVerdict(reply string) (bool, error) {
	words := strings.FieldsFunc(strings.ToLower(norm.NFKC.String(reply)), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		switch w {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("unparseable judge reply %q", reply)
}

// SimilarityJudge compares outputs by the cosine similarity of their
// embeddings.
type SimilarityJudge struct {
	model     ports.EmbeddingModel
	threshold float64
}

var _ ports.Judge = (*SimilarityJudge)(nil)

// NewSimilarityJudge creates a similarity judge with a threshold on a 0-100
// scale. A zero threshold passes every sample; a negative one uses
// DefaultSimilarityThreshold.
func NewSimilarityJudge(model ports.EmbeddingModel, threshold float64) *SimilarityJudge {
	if threshold < 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &SimilarityJudge{model: model, threshold: threshold}
}

func (j *SimilarityJudge) Strategy() domain.Strategy { return domain.StrategySemanticSimilarity }

// Threshold returns the pass threshold on a 0-100 scale.
func (j *SimilarityJudge) Threshold() float64 { return j.threshold }

// Judge passes when the similarity of output and expected, scaled to 0-100,
// is at least the threshold.
func (j *SimilarityJudge) Judge(ctx context.Context, output, expected string) (domain.SampleResult, error) {
	vectors, err := j.model.Embed(ctx, []string{output, expected})
	if err != nil {
		return domain.SampleResult{}, modelFailure("embedding", err)
	}
	if len(vectors) != 2 {
		return domain.SampleResult{}, modelFailure("embedding", fmt.Errorf("got %d vectors, want 2", len(vectors)))
	}
	sim, err := cosine(vectors[0], vectors[1])
	if err != nil {
		return domain.SampleResult{}, modelFailure("embedding", err)
	}
	similarity := sim * 100
	passed := similarity >= j.threshold
	return domain.SampleResult{
		ExpectedOutput: expected,
		Passed:         passed,
		Score:          verdictScore(passed),
		Detail:         "similarity=" + strconv.FormatFloat(similarity, 'f', 2, 64),
	}, nil
}

func cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("embedding dimensions differ: %d and %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("zero-length embedding")
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
