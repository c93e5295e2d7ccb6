package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/leengari/mini-rdbms/internal/config"
	"github.com/leengari/mini-rdbms/internal/logging"
	"github.com/leengari/mini-rdbms/internal/network"
	"github.com/leengari/mini-rdbms/internal/registry"
	"github.com/leengari/mini-rdbms/internal/repl"
)

func main() {
	createPath := flag.String("create", "", "create a fresh registry root at this path")
	openPath := flag.String("open", "", "open an existing registry root at this path")
	serverMode := flag.Bool("server", false, "run the TCP wire-protocol server instead of the console")
	port := flag.Int("port", 0, "port to listen on in -server mode (default from config)")
	flag.Parse()

	logger, closeFn := logging.SetupLogger()
	defer closeFn()
	slog.SetDefault(logger)

	path, fresh, err := resolveRootPath(*createPath, *openPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if fresh {
		if _, err := os.Stat(path); err == nil {
			slog.Error("create target already exists", "path", path)
			os.Exit(1)
		}
	} else {
		if _, err := os.Stat(path); err != nil {
			slog.Error("open target does not exist", "path", path)
			os.Exit(1)
		}
	}

	cfg := config.Load()
	reg, err := registry.New(path, cfg, logger)
	if err != nil {
		slog.Error("failed to open registry", "error", err)
		os.Exit(1)
	}

	if *serverMode {
		p := cfg.TCPPort
		if *port != 0 {
			p = *port
		}
		slog.Info("starting server mode", "root", path, "port", p)
		if err := network.Start(p, reg); err != nil {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("starting console mode", "root", path)
	repl.Start(reg)
}

func resolveRootPath(createPath, openPath string) (path string, fresh bool, err error) {
	switch {
	case createPath != "" && openPath != "":
		return "", false, fmt.Errorf("specify only one of -create or -open")
	case createPath != "":
		return createPath, true, nil
	case openPath != "":
		return openPath, false, nil
	default:
		return "", false, fmt.Errorf("usage: rdbms -create <path> | -open <path>")
	}
}
