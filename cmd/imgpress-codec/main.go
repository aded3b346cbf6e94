package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/you-humble/imgpress/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	w := app.NewWorker(ctx)
	if err := w.Run(ctx); err != nil {
		log.Fatalln("imgpress-codec:", err)
	}
}
