package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/keyshard/keyshard/cmd/flags"
	"github.com/keyshard/keyshard/httpserver"
	"github.com/keyshard/keyshard/metadataservice"
	"github.com/keyshard/keyshard/storage"
)

var cliFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for the metadata API",
	},
	flags.StorageURIFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "metadataserver",
		Usage: "Serve the durable account metadata API",
		Flags: cliFlags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			storageURI := cCtx.String(flags.StorageURIFlag.Name)

			logger := flags.SetupLogger(cCtx)

			store, err := storage.NewFactory(logger).KVStoreFor(storageURI)
			if err != nil {
				logger.Error("Failed to create storage backend", "err", err, "uri", storageURI)
				return err
			}
			logger.Info("Using storage backend", "backend", store.Name())

			service := metadataservice.NewService(store, logger)
			handler := metadataservice.NewHandler(service, logger)

			cfg := flags.ConfigureServer(cCtx, logger, listenAddr)
			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
