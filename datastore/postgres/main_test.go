package postgres

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var (
	traceFile = flag.String("traces", "", "write store spans as JSON to `file`")
	metricOut = flag.Bool("metrics", false, "print store metrics to stderr on exit")
)

// TestMain installs stdout exporters for the store's spans and metrics when
// asked, so a run can be inspected with:
//
//	go test -run TestStore -args -traces=spans.json -metrics
func TestMain(m *testing.M) {
	flag.Parse()
	shutdown, err := exporters()
	if err != nil {
		fmt.Fprintln(os.Stderr, "telemetry setup:", err)
		os.Exit(2)
	}
	code := m.Run()
	if err := shutdown(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "telemetry shutdown:", err)
	}
	os.Exit(code)
}

func exporters() (func(context.Context) error, error) {
	var fns []func(context.Context) error
	stop := func(ctx context.Context) error {
		var errs []error
		for i := len(fns) - 1; i >= 0; i-- {
			errs = append(errs, fns[i](ctx))
		}
		return errors.Join(errs...)
	}
	if *traceFile != "" {
		f, err := os.Create(*traceFile)
		if err != nil {
			return nil, err
		}
		fns = append(fns, func(context.Context) error { return f.Close() })
		exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
		if err != nil {
			return nil, errors.Join(err, stop(context.Background()))
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSyncer(exp),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		fns = append(fns, tp.Shutdown)
	}
	if *metricOut {
		var w io.Writer = os.Stderr
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, errors.Join(err, stop(context.Background()))
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
		otel.SetMeterProvider(mp)
		fns = append(fns, mp.Shutdown)
	}
	return stop, nil
}
