package latest

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "lastmsg/latest"

var latestTracer = otel.Tracer(instrumentationName)

type searchInstruments struct {
	rounds metric.Int64Histogram
	pages  metric.Int64Counter
	pruned metric.Int64Counter
}

// newSearchInstruments resolves instruments against the current global meter provider
// so that providers installed after package init are honoured.
func newSearchInstruments(logger *log.Logger) *searchInstruments {
	meter := otel.GetMeterProvider().Meter(instrumentationName)
	inst := &searchInstruments{}

	var err error
	inst.rounds, err = meter.Int64Histogram(
		"lastmsg.search.rounds",
		metric.WithDescription("Fetch rounds needed for a search to converge"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		logger.Printf("latest: failed to create rounds histogram: %v", err)
	}

	inst.pages, err = meter.Int64Counter(
		"lastmsg.pages.fetched",
		metric.WithDescription("Message pages requested from the page source"),
		metric.WithUnit("{page}"),
	)
	if err != nil {
		logger.Printf("latest: failed to create pages counter: %v", err)
	}

	inst.pruned, err = meter.Int64Counter(
		"lastmsg.channels.pruned",
		metric.WithDescription("Channels discarded because they cannot beat the best candidate"),
		metric.WithUnit("{channel}"),
	)
	if err != nil {
		logger.Printf("latest: failed to create pruned counter: %v", err)
	}

	return inst
}

func (i *searchInstruments) recordPages(ctx context.Context, n int, phase string) {
	if i == nil || i.pages == nil || n == 0 {
		return
	}
	i.pages.Add(ctx, int64(n), metric.WithAttributes(attribute.String("phase", phase)))
}

func (i *searchInstruments) recordPruned(ctx context.Context, n int) {
	if i == nil || i.pruned == nil || n == 0 {
		return
	}
	i.pruned.Add(ctx, int64(n))
}

func (i *searchInstruments) recordRounds(ctx context.Context, rounds int, outcome Outcome) {
	if i == nil || i.rounds == nil {
		return
	}
	i.rounds.Record(ctx, int64(rounds), metric.WithAttributes(attribute.String("outcome", string(outcome))))
}
