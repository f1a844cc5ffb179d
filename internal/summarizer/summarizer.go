// Package summarizer drives the external summarization capability spec.md
// §4.6 describes: given a segment's event transcript, produce a title,
// summary, bullets (each anchored to an excerpt), and keywords. The
// capability itself (an LLM call) is a pluggable collaborator, not part
// of this engine; this package owns the retry/degraded-mode discipline
// around it.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agentmemory/memoryd/internal/types"
)

// BulletOutput is one bullet in a Capability's response, anchored to the
// excerpt it was drawn from.
type BulletOutput struct {
	Text              string
	ExcerptEventStart string
	ExcerptEventEnd   string
	ExcerptText       string
}

// Result is a Capability's structured output contract (spec.md §4.6).
type Result struct {
	Title    string
	Summary  string
	Bullets  []BulletOutput
	Keywords []string
}

// Capability is the pluggable external summarizer. Implementations wrap
// whatever concrete LLM client is configured; the engine only depends on
// this interface.
type Capability interface {
	Summarize(ctx context.Context, transcript string) (Result, error)
}

// Config tunes the Driver's retry behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxElapsedTime time.Duration
	CallTimeout    time.Duration // default 30s per spec.md §5
}

// DefaultConfig matches the retry posture the teacher's AI-call client
// uses for its own summarization calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxElapsedTime: 30 * time.Second,
		CallTimeout:    30 * time.Second,
	}
}

// Driver wraps a Capability with bounded exponential-backoff retry and a
// degraded fallback when the retry budget is exhausted.
type Driver struct {
	capability Capability
	cfg        Config
	log        *slog.Logger
}

// NewDriver constructs a Driver around capability. log may be nil, in
// which case a discarding logger is used.
func NewDriver(capability Capability, cfg Config, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Driver{capability: capability, cfg: cfg, log: log.With("component", "summarizer")}
}

var tracer = otel.Tracer("github.com/agentmemory/memoryd/summarizer")

var summarizerMetrics struct {
	calls     metric.Int64Counter
	failures  metric.Int64Counter
	degraded  metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/agentmemory/memoryd/summarizer")
	summarizerMetrics.calls, _ = m.Int64Counter("memoryd.summarizer.calls",
		metric.WithDescription("summarizer capability invocations"),
		metric.WithUnit("{call}"))
	summarizerMetrics.failures, _ = m.Int64Counter("memoryd.summarizer.failures",
		metric.WithDescription("summarizer capability invocations that exhausted their retry budget"),
		metric.WithUnit("{call}"))
	summarizerMetrics.degraded, _ = m.Int64Counter("memoryd.summarizer.degraded_segments",
		metric.WithDescription("segments summarized via the degraded fallback"),
		metric.WithUnit("{segment}"))
}

// Summarize calls the underlying Capability with bounded retry. On
// exhaustion it returns a degraded Result (role-prefixed concatenation
// of the transcript) and degraded=true, rather than an error, so the
// hierarchy remains traversable per spec.md §4.6.
func (d *Driver) Summarize(ctx context.Context, events []types.Event) (result Result, degraded bool, err error) {
	ctx, span := tracer.Start(ctx, "summarizer.Summarize")
	defer span.End()
	summarizerMetrics.calls.Add(ctx, 1)

	transcript := renderTranscript(events)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.InitialBackoff
	bo.MaxElapsedTime = d.cfg.MaxElapsedTime

	attempts := 0
	callErr := backoff.Retry(func() error {
		attempts++
		if attempts > d.cfg.MaxRetries+1 {
			return backoff.Permanent(fmt.Errorf("summarizer: retry budget exhausted: %w", types.ErrUnavailable))
		}
		callCtx := ctx
		var cancel context.CancelFunc
		if d.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
			defer cancel()
		}
		r, e := d.capability.Summarize(callCtx, transcript)
		if e != nil {
			return e
		}
		result = r
		return nil
	}, backoff.WithContext(bo, ctx))

	if callErr != nil {
		summarizerMetrics.failures.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempts", attempts)))
		d.log.Warn("summarizer capability exhausted retry budget, falling back to degraded summary",
			"attempts", attempts, "error", callErr)
		summarizerMetrics.degraded.Add(ctx, 1)
		return degradedResult(events), true, nil
	}
	return result, false, nil
}

// renderTranscript produces the plain-text conversation transcript a
// Capability consumes, one line per event.
func renderTranscript(events []types.Event) string {
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "[%s] %s: %s\n", ev.Timestamp.Format(time.RFC3339), ev.Role, ev.Text)
	}
	return b.String()
}

// degradedResult builds the "unsummarized" fallback: a title derived
// from the time range and a summary that is a role-prefixed
// concatenation of event text, keyword-free (spec.md §4.6: "still
// indexable by its raw-text keywords" refers to the raw text itself,
// not a keyword extraction this fallback cannot perform).
func degradedResult(events []types.Event) Result {
	if len(events) == 0 {
		return Result{Title: "empty segment", Summary: ""}
	}
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "%s: %s\n", ev.Role, ev.Text)
	}
	title := fmt.Sprintf("conversation %s - %s",
		events[0].Timestamp.Format("2006-01-02 15:04"),
		events[len(events)-1].Timestamp.Format("15:04"))
	return Result{
		Title:   title,
		Summary: b.String(),
		Bullets: nil,
	}
}
