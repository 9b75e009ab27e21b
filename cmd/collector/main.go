package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/servicetracker/internal/collector"
	"github.com/dmitrijs2005/servicetracker/internal/collector/config"
	"github.com/dmitrijs2005/servicetracker/internal/flagx"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	app, err := collector.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	err = app.Run(ctx, flagx.Positional(os.Args[1:], config.ValueFlags))
	_ = app.Close()
	if err != nil {
		log.Fatalf("%v", err)
	}
}
