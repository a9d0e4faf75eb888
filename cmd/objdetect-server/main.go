package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/esimov/objdetect"
	_ "github.com/esimov/objdetect/legacy/pigocascade"
	"github.com/esimov/objdetect/logger"
	"github.com/esimov/objdetect/server"
)

var (
	configFile = flag.String("config", "", "YAML configuration file")
	cascade    = flag.String("cc", "", "Cascade classifier file")
	addr       = flag.String("addr", "", "Listen address")
	debug      = flag.Bool("debug", false, "Use the development logger")
)

func main() {
	flag.Parse()

	cfg := objdetect.DefaultConfig()
	if *configFile != "" {
		c, err := objdetect.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = *c
	}
	if *cascade != "" {
		cfg.Cascade = *cascade
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	cfg.Debug = cfg.Debug || *debug

	var err error
	if cfg.Debug {
		err = logger.InitDevelopment()
	} else {
		err = logger.InitProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to create the logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Cascade == "" {
		logger.L().Fatal("no cascade classifier given, use -cc or the cascade field of the config file")
	}
	classifier, err := objdetect.Load(cfg.Cascade)
	if err != nil {
		logger.L().Fatal("failed to load the cascade classifier", zap.String("path", cfg.Cascade), zap.Error(err))
	}
	defer classifier.Close()
	logger.L().Info("cascade loaded",
		zap.String("path", cfg.Cascade),
		zap.Stringer("featureType", classifier.FeatureType()),
		zap.Stringer("window", classifier.OriginalWindowSize()),
		zap.Bool("oldFormat", classifier.IsOldFormat()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(classifier, cfg.Detect).Run(ctx, cfg.Addr); err != nil {
		logger.L().Error("server stopped", zap.Error(err))
	}
}
