package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"marketdata/internal/app"
	"marketdata/internal/config"
	"marketdata/internal/logging"
)

type options struct {
	kind       string
	country    string
	symbols    []string
	currency   string
	period     string
	timeout    time.Duration
	configPath string
}

func parseFlags(args []string) (options, error) {
	var o options
	var symbolsCSV string
	var timeoutSec int

	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.StringVar(&o.kind, "kind", "metals", "what to fetch: metals|rates|crypto|stock|chart")
	fs.StringVar(&o.country, "country", "US", "country code for -kind metals")
	fs.StringVar(&symbolsCSV, "symbols", "", "comma-separated symbols (crypto assets or one stock ticker)")
	fs.StringVar(&o.currency, "currency", "USD", "quote currency for -kind crypto")
	fs.StringVar(&o.period, "period", "", "chart period, e.g. 1mo, 1y")
	fs.IntVar(&timeoutSec, "timeout", 30, "overall timeout in seconds")
	fs.StringVar(&o.configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.yaml (optional)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.symbols = splitCSV(symbolsCSV)
	o.timeout = time.Duration(timeoutSec) * time.Second
	switch o.kind {
	case "metals", "rates", "crypto":
	case "stock", "chart":
		if len(o.symbols) != 1 {
			return o, fmt.Errorf("-kind %s needs exactly one symbol", o.kind)
		}
	default:
		return o, fmt.Errorf("unknown -kind %q", o.kind)
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(o.configPath)
	log := logging.NewWithWriter(logging.Config{Level: cfg.Logging.Level, Pretty: true}, os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	if err := run(ctx, app.Build(cfg, log), o, os.Stdout); err != nil {
		log.Fatal().Err(err).Str("kind", o.kind).Msg("fetch failed")
	}
}

// run resolves one quantity and prints it as indented JSON.
func run(ctx context.Context, a *app.App, o options, w io.Writer) error {
	var out any
	switch o.kind {
	case "metals":
		cm, err := a.Metals.ForCountry(ctx, o.country)
		if err != nil {
			return err
		}
		out = cm
	case "rates":
		out = a.Rates.Table(ctx)
	case "crypto":
		out = a.Crypto.Quotes(ctx, o.symbols, o.currency)
	case "stock":
		s, err := a.Backend.Stock(ctx, o.symbols[0])
		if err != nil {
			return err
		}
		out = s
	case "chart":
		points, err := a.Backend.Chart(ctx, o.symbols[0], o.period, "")
		if err != nil {
			return err
		}
		out = points
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
