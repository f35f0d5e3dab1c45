package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/choicesim/internal/config"
	"github.com/ShayCichocki/choicesim/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve recorded runs over HTTP",
	Long: `Serve the project result store as a read-only JSON API.

Endpoints:
  GET /healthz
  GET /runs?limit=N
  GET /runs/{id}
  GET /runs/{id}/responses
  GET /runs/{id}/summary

Live progress (/ws/progress) and run control (/control/{action}) are only
available while a simulation runs with 'choicesim simulate --listen'.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Address to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	db, err := openStore(cfg, cwd)
	if err != nil {
		return err
	}
	defer db.Close()

	srv, err := server.New(server.Config{Store: db})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Serving %s on %s\n", storeLabel(db), serveAddr)
	return srv.ListenAndServe(ctx, serveAddr)
}
