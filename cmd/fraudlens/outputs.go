package main

import (
	"fmt"
	"log/slog"

	"github.com/crimson-sun/fraudlens/internal/config"
	"github.com/crimson-sun/fraudlens/internal/output"
	"github.com/crimson-sun/fraudlens/internal/output/async"
	"github.com/crimson-sun/fraudlens/internal/output/file"
	"github.com/crimson-sun/fraudlens/internal/output/kafka"
	"github.com/crimson-sun/fraudlens/internal/output/multi"
	"github.com/crimson-sun/fraudlens/internal/output/stdout"
	"github.com/crimson-sun/fraudlens/internal/output/webhook"
)

// buildOutputs creates one sink per configured name. Network sinks are
// wrapped in async so a slow endpoint never stalls scoring. A single sink
// is returned unwrapped.
func buildOutputs(cfg config.OutputConfig) (output.Output, error) {
	verbosity, err := output.ParseVerbosity(cfg.Verbosity)
	if err != nil {
		return nil, err
	}

	var outs []output.Output
	closeAll := func() {
		for _, o := range outs {
			o.Close()
		}
	}
	for _, name := range cfg.Sinks {
		o, err := buildOutput(name, cfg, verbosity)
		if err != nil {
			closeAll()
			return nil, err
		}
		outs = append(outs, o)
	}

	if len(outs) == 1 {
		return outs[0], nil
	}
	return multi.New(outs...), nil
}

func buildOutput(name string, cfg config.OutputConfig, verbosity output.Verbosity) (output.Output, error) {
	onError := func(err error) {
		slog.Warn("async output write failed", "sink", name, "error", err)
	}

	switch name {
	case "stdout":
		return stdout.New(verbosity, cfg.Pretty), nil
	case "file":
		var opts []file.Option
		if cfg.MaxSize > 0 {
			opts = append(opts, file.WithMaxSize(cfg.MaxSize))
		}
		o, err := file.New(cfg.Path, verbosity, opts...)
		if err != nil {
			return nil, fmt.Errorf("output file: %w", err)
		}
		return o, nil
	case "webhook":
		wh := webhook.New(cfg.WebhookURL,
			webhook.WithToken(cfg.WebhookToken),
			webhook.WithVerbosity(verbosity),
			webhook.WithOnError(onError),
		)
		return async.New(wh, async.WithOnError(onError)), nil
	case "kafka":
		k, err := kafka.New(cfg.Brokers, cfg.Topic, verbosity)
		if err != nil {
			return nil, fmt.Errorf("output kafka: %w", err)
		}
		return async.New(k, async.WithOnError(onError)), nil
	}
	return nil, fmt.Errorf("unknown output %q", name)
}
