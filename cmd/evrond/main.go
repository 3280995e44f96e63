package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"evron/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}
