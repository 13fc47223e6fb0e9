package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"pubcontrol/internal/app"
	"pubcontrol/internal/config"
	logx "pubcontrol/pkg/logx"
	"pubcontrol/pkg/pubcontrol"
)

type flags struct {
	cfgPath  string
	relay    bool
	uri      string
	iss      string
	key      string
	user     string
	pass     string
	channel  string
	data     string
	id       string
	prevID   string
	async    bool
	logLevel string
	timeout  time.Duration
}

func main() {
	var f flags
	flag.StringVar(&f.cfgPath, "config", "", "path to relay config (yaml or json)")
	flag.BoolVar(&f.relay, "relay", false, "read envelopes from stdin and publish until EOF or signal (requires -config)")
	flag.StringVar(&f.uri, "uri", "", "endpoint base URI when no config is given")
	flag.StringVar(&f.iss, "iss", "", "JWT issuer for -uri")
	flag.StringVar(&f.key, "key", "", "JWT signing key for -uri")
	flag.StringVar(&f.user, "user", "", "basic auth user for -uri")
	flag.StringVar(&f.pass, "pass", "", "basic auth password for -uri")
	flag.StringVar(&f.channel, "channel", "", "channel to publish to")
	flag.StringVar(&f.data, "data", "", "json-object payload (JSON object)")
	flag.StringVar(&f.id, "id", "", "item id")
	flag.StringVar(&f.prevID, "prev-id", "", "previous item id")
	flag.BoolVar(&f.async, "async", false, "publish through the background worker and wait for the aggregated result")
	flag.StringVar(&f.logLevel, "log-level", "warn", "console log level for one-shot mode")
	flag.DurationVar(&f.timeout, "timeout", 10*time.Second, "publish timeout for one-shot mode")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if f.relay {
		err = runRelay(ctx, f)
	} else {
		err = runOnce(ctx, f)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runRelay(ctx context.Context, f flags) error {
	if f.cfgPath == "" {
		return errors.New("-relay requires -config")
	}
	a, err := app.NewApp(f.cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.Serve(ctx, os.Stdin) }()

	reason := app.StopInputEOF
	select {
	case err = <-serveErr:
	case <-a.Done():
		reason = app.StopFatalError
		err = a.Err()
	case <-ctx.Done():
		reason = app.StopSIGTERM
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	return err
}

func runOnce(ctx context.Context, f flags) error {
	if strings.TrimSpace(f.channel) == "" {
		return errors.New("-channel is required")
	}
	endpoints, err := loadEndpoints(f)
	if err != nil {
		return err
	}

	var value map[string]any
	if f.data != "" {
		if err := json.Unmarshal([]byte(f.data), &value); err != nil {
			return fmt.Errorf("-data: %w", err)
		}
	}
	if value == nil {
		value = map[string]any{}
	}
	var opts []pubcontrol.ItemOption
	if f.id != "" {
		opts = append(opts, pubcontrol.WithID(f.id))
	}
	if f.prevID != "" {
		opts = append(opts, pubcontrol.WithPrevID(f.prevID))
	}
	item := pubcontrol.NewItem([]pubcontrol.Format{pubcontrol.JSONObjectFormat{Value: value}}, opts...)

	log := logx.NewConsole(f.logLevel).With(logx.String("comp", "pubctl"))
	pc := pubcontrol.New(endpoints,
		pubcontrol.WithTransport(pubcontrol.NewHTTPTransport(f.timeout)),
		pubcontrol.WithLogger(log),
	)

	if !f.async {
		pctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		if err := pc.Publish(pctx, f.channel, item); err != nil {
			return err
		}
		fmt.Println("published")
		return nil
	}

	type outcome struct {
		ok  bool
		msg string
	}
	result := make(chan outcome, 1)
	if err := pc.PublishAsync(f.channel, item, func(ok bool, msg string) {
		result <- outcome{ok, msg}
	}); err != nil {
		pc.Finish()
		return err
	}
	pc.Finish()
	res := <-result
	if !res.ok {
		return errors.New(res.msg)
	}
	fmt.Println("published")
	return nil
}

func loadEndpoints(f flags) ([]pubcontrol.EndpointConfig, error) {
	if f.cfgPath != "" {
		cfg, err := config.NewConfigManager(f.cfgPath).Load()
		if err != nil {
			return nil, err
		}
		return app.MapEndpoints(cfg), nil
	}
	if f.uri == "" {
		return nil, errors.New("either -config or -uri is required")
	}
	return []pubcontrol.EndpointConfig{{
		URI:  strings.TrimRight(f.uri, "/"),
		Iss:  f.iss,
		Key:  []byte(f.key),
		User: f.user,
		Pass: f.pass,
	}}, nil
}
