package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/intakevault/internal/config"
	"github.com/dmitrijs2005/intakevault/internal/worker"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := worker.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
