package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
)

type harness struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	in     *Instrumentation
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	in, err := NewInstrumentation(
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	)
	require.NoError(t, err)
	return &harness{spans: spans, reader: reader, in: in}
}

func (h *harness) metrics(t *testing.T) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func attr(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.AsString()
}

func TestInstrumentedScorer_Success(t *testing.T) {
	h := newHarness(t)
	scorer := h.in.Scorer(NewRelevanceScorer(relevanceFunc(func(context.Context, string, string) (float64, error) {
		return 0.9, nil
	})))
	i := newInteraction("sys", "user", "result")

	score, err := scorer.Score(context.Background(), i)
	require.NoError(t, err)
	assert.Equal(t, 0.9, score.Value)

	ended := h.spans.Ended()
	require.Len(t, ended, 1)
	span := ended[0]
	assert.Equal(t, ScoredName, span.Name())
	assert.Equal(t, codes.Unset, span.Status().Code)
	attrs := attribute.NewSet(span.Attributes()...)
	assert.Equal(t, "billing", attr(attrs, "arg.applicationName"))
	assert.Equal(t, "ClaimApi", attr(attrs, "arg.interfaceName"))
	assert.Equal(t, "submit", attr(attrs, "arg.methodName"))

	metrics := h.metrics(t)

	counter, ok := metrics[ScoredName].Data.(metricdata.Sum[int64])
	require.True(t, ok, "counter %s missing", ScoredName)
	require.Len(t, counter.DataPoints, 1)
	assert.Equal(t, int64(1), counter.DataPoints[0].Value)
	assert.Equal(t, "billing", attr(counter.DataPoints[0].Attributes, "applicationName"))
	assert.Equal(t, "ClaimApi", attr(counter.DataPoints[0].Attributes, "interfaceName"))
	assert.Equal(t, "submit", attr(counter.DataPoints[0].Attributes, "methodName"))

	gauge, ok := metrics[ScoredName+".latest"].Data.(metricdata.Gauge[float64])
	require.True(t, ok, "gauge %s.latest missing", ScoredName)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, 0.9, gauge.DataPoints[0].Value)
}

func TestInstrumentedScorer_LatestTracksLastValue(t *testing.T) {
	h := newHarness(t)
	values := []float64{0.2, 0.7}
	n := 0
	scorer := h.in.Scorer(NewRelevanceScorer(relevanceFunc(func(context.Context, string, string) (float64, error) {
		v := values[n]
		n++
		return v, nil
	})))

	for range values {
		_, err := scorer.Score(context.Background(), newInteraction("", "q", "r"))
		require.NoError(t, err)
	}

	metrics := h.metrics(t)
	counter := metrics[ScoredName].Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(2), counter.DataPoints[0].Value)
	gauge := metrics[ScoredName+".latest"].Data.(metricdata.Gauge[float64])
	assert.Equal(t, 0.7, gauge.DataPoints[0].Value)
}

func TestInstrumentedScorer_Error(t *testing.T) {
	h := newHarness(t)
	scorer := h.in.Scorer(NewRelevanceScorer(relevanceFunc(func(context.Context, string, string) (float64, error) {
		return 0, context.DeadlineExceeded
	})))

	_, err := scorer.Score(context.Background(), newInteraction("", "q", "r"))
	require.ErrorIs(t, err, domain.ErrScoringModelFailure)

	ended := h.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	require.NotEmpty(t, ended[0].Events())
	assert.Equal(t, "exception", ended[0].Events()[0].Name)

	metrics := h.metrics(t)
	if m, ok := metrics[ScoredName]; ok {
		sum := m.Data.(metricdata.Sum[int64])
		assert.Empty(t, sum.DataPoints)
	}
	if m, ok := metrics[ScoredName+".latest"]; ok {
		gauge := m.Data.(metricdata.Gauge[float64])
		assert.Empty(t, gauge.DataPoints)
	}
}

func TestInstrumentedRescorer(t *testing.T) {
	h := newHarness(t)
	judge := &verdictJudge{verdicts: map[string]bool{"one": true}}
	rescorer := h.in.Rescorer(NewEvaluationScorer(fakeSamples{samples: []domain.Sample{{Name: "a", ExpectedOutput: "one"}}}, judge))

	res, err := rescorer.Rescore(context.Background(), newInteraction("", "q", "r"))
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Score.Value)

	ended := h.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, RescoredName, ended[0].Name())

	metrics := h.metrics(t)
	counter, ok := metrics[RescoredName].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), counter.DataPoints[0].Value)
	gauge, ok := metrics[RescoredName+".latest"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	assert.Equal(t, 100.0, gauge.DataPoints[0].Value)
}

func TestRegistry_WithObservability(t *testing.T) {
	h := newHarness(t)
	reg := &Registry{
		Mode:     domain.ModeNormal,
		Scorer:   NewRelevanceScorer(relevanceFunc(func(context.Context, string, string) (float64, error) { return 1, nil })),
		Rescorer: NewEvaluationScorer(fakeSamples{err: domain.ErrNoSamplesForSource}, &verdictJudge{}),
	}

	wrapped := reg.WithObservability(h.in)
	assert.Equal(t, reg.Mode, wrapped.Mode)
	assert.NotSame(t, reg, wrapped)

	_, err := wrapped.Rescorer.Rescore(context.Background(), newInteraction("", "q", "r"))
	assert.ErrorIs(t, err, domain.ErrNoSamplesForSource)
	require.Len(t, h.spans.Ended(), 1)
	assert.Equal(t, RescoredName, h.spans.Ended()[0].Name())
}
