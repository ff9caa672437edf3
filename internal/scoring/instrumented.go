package scoring

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
)

const (
	instrumentationName = "github.com/tjfontaine/interaction-scorer/internal/scoring"

	// ScoredName names the span and counter of NORMAL scoring.
	ScoredName = "interaction.scored"
	// RescoredName names the span and counter of evaluation rescoring.
	RescoredName = "interaction.rescored"
)

// Instrumentation records a span per scoring call and, on success, a counter
// and a latest-score gauge per source.
type Instrumentation struct {
	tracer   trace.Tracer
	scored   *outcome
	rescored *outcome
}

type outcome struct {
	name    string
	counter metric.Int64Counter
	// latest maps domain.SourceKey to *atomic.Uint64 holding float64 bits.
	latest sync.Map
}

// NewInstrumentation creates the instruments on the given providers.
func NewInstrumentation(tp trace.TracerProvider, mp metric.MeterProvider) (*Instrumentation, error) {
	meter := mp.Meter(instrumentationName)
	in := &Instrumentation{tracer: tp.Tracer(instrumentationName)}

	var err error
	if in.scored, err = newOutcome(meter, ScoredName, "An interaction that has been scored"); err != nil {
		return nil, err
	}
	if in.rescored, err = newOutcome(meter, RescoredName, "An interaction that has been rescored"); err != nil {
		return nil, err
	}
	return in, nil
}

func newOutcome(meter metric.Meter, name, description string) (*outcome, error) {
	o := &outcome{name: name}

	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	o.counter = counter

	_, err = meter.Float64ObservableGauge(name+".latest",
		metric.WithDescription("Latest score per source"),
		metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
			o.latest.Range(func(k, v any) bool {
				bits := v.(*atomic.Uint64).Load()
				obs.Observe(math.Float64frombits(bits), metric.WithAttributes(metricAttributes(k.(domain.SourceKey))...))
				return true
			})
			return nil
		}))
	if err != nil {
		return nil, fmt.Errorf("failed to create gauge %s.latest: %w", name, err)
	}
	return o, nil
}

func (o *outcome) record(ctx context.Context, source domain.SourceKey, value float64) {
	o.counter.Add(ctx, 1, metric.WithAttributes(metricAttributes(source)...))
	v, _ := o.latest.LoadOrStore(source, new(atomic.Uint64))
	v.(*atomic.Uint64).Store(math.Float64bits(value))
}

func metricAttributes(source domain.SourceKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("applicationName", source.Application),
		attribute.String("interfaceName", source.Interface),
		attribute.String("methodName", source.Method),
	}
}

func spanAttributes(source domain.SourceKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("arg.applicationName", source.Application),
		attribute.String("arg.interfaceName", source.Interface),
		attribute.String("arg.methodName", source.Method),
	}
}

func (in *Instrumentation) start(ctx context.Context, name string, source domain.SourceKey) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, name, trace.WithAttributes(spanAttributes(source)...))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Scorer wraps s so each call is traced and measured. Results pass through
// unchanged.
func (in *Instrumentation) Scorer(s ports.Scorer) ports.Scorer {
	return &instrumentedScorer{next: s, in: in}
}

// Rescorer wraps r so each call is traced and measured. Results pass through
// unchanged.
func (in *Instrumentation) Rescorer(r ports.Rescorer) ports.Rescorer {
	return &instrumentedRescorer{next: r, in: in}
}

type instrumentedScorer struct {
	next ports.Scorer
	in   *Instrumentation
}

func (s *instrumentedScorer) Score(ctx context.Context, interaction *domain.Interaction) (domain.Score, error) {
	source := interaction.Source()
	ctx, span := s.in.start(ctx, ScoredName, source)
	defer span.End()

	score, err := s.next.Score(ctx, interaction)
	if err != nil {
		fail(span, err)
		return score, err
	}
	s.in.scored.record(ctx, source, score.Value)
	return score, nil
}

type instrumentedRescorer struct {
	next ports.Rescorer
	in   *Instrumentation
}

func (r *instrumentedRescorer) Rescore(ctx context.Context, interaction *domain.Interaction) (domain.RescoreResult, error) {
	source := interaction.Source()
	ctx, span := r.in.start(ctx, RescoredName, source)
	defer span.End()

	res, err := r.next.Rescore(ctx, interaction)
	if err != nil {
		fail(span, err)
		return res, err
	}
	span.SetAttributes(attribute.Bool("passed", res.Report.Passed))
	r.in.rescored.record(ctx, source, res.Score.Value)
	return res, nil
}
