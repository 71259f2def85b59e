package main

import (
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/awmpietro/reaction-sim/internal/app"
	"github.com/awmpietro/reaction-sim/internal/config"
	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/scenario/cache"
	"github.com/awmpietro/reaction-sim/internal/sim"
	"github.com/awmpietro/reaction-sim/internal/transport/lambdatransport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	notifier := sim.NewAsyncNotifier(sim.NewSlogNotifier(logger), cfg.NotifierBuffer)
	defer notifier.Close()

	svc := app.NewService(
		app.DecoderFunc(scenario.Decode),
		cache.NewInMemory(cfg.CacheMaxItems),
		app.WithDefaults(cfg.RunConfig()),
		app.WithRunTimeout(cfg.RunTimeout),
		app.WithLogger(logger),
		app.WithEngineOptions(sim.WithNotifier(notifier)),
	)
	h := lambdatransport.NewHandler(svc)

	lambda.Start(h.Handle)
}
