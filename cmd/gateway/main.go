package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ruteri/ipfs-orchestrator/cmd/flags"
	"github.com/ruteri/ipfs-orchestrator/common"
	"github.com/ruteri/ipfs-orchestrator/httpserver"
	"github.com/ruteri/ipfs-orchestrator/metrics"
	"github.com/ruteri/ipfs-orchestrator/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "gateway",
		Usage: "Serve content add, read and removal over HTTP",
		Flags: append(append(append([]cli.Flag{flags.LogServiceFlagFn("gateway")}, flags.LoggingFlags...), flags.StoreFlags...), flags.ServerFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx, os.Stdout)

			cfg, err := flags.LoadConfig(cCtx)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m, err := metrics.New(common.PackageName, reg)
			if err != nil {
				return err
			}

			mgr, err := storage.NewManager(cfg, logger, storage.WithMetrics(m))
			if err != nil {
				return err
			}
			defer mgr.Close()

			if err := mgr.Initialize(cCtx.Context); err != nil {
				logger.Error("failed to initialize storage", "err", err)
				return err
			}
			writer, err := mgr.Writer()
			if err != nil {
				return err
			}
			reader, err := mgr.Reader()
			if err != nil {
				return err
			}

			serverCfg := flags.ConfigureServer(cCtx, logger)
			handler := httpserver.NewHandler(writer, reader, serverCfg.MaxBodySize, logger)
			srv, err := httpserver.New(serverCfg, handler, reg)
			if err != nil {
				return err
			}

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			srv.RunInBackground()
			<-exit

			srv.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
