package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/servicetracker/internal/flagx"
	"github.com/dmitrijs2005/servicetracker/internal/tracker/cli"
	"github.com/dmitrijs2005/servicetracker/internal/tracker/config"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	err = app.Run(ctx, flagx.Positional(os.Args[1:], config.ValueFlags))
	_ = app.Close()
	if err != nil {
		log.Fatalf("%v", err)
	}
}
