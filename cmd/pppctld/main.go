/*
The pppctld command is the PPP session supervisor: it accepts requests
on a local control socket to bring up, tear down, query and subscribe
to PPP calls, and owns the L2TP reliable control channel used to carry
them over UDP.

pppctld is driven by a TOML configuration file; see package config for
its format, including the persisted per-service option setup consulted
by GET_OPTION/SET_OPTION.
*/
package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/go-ppp/pppctld/config"
	"github.com/go-ppp/pppctld/registry"
)

func main() {
	cfgPathPtr := flag.String("config", "/etc/pppctld/pppctld.toml", "specify configuration file path")
	verbosePtr := flag.Bool("verbose", false, "toggle verbose log output")
	flag.Parse()

	cfg, err := config.LoadFile(*cfgPathPtr)
	if err != nil {
		stdlog.Fatalf("failed to load configuration: %v", err)
	}

	logger := log.NewLogfmtLogger(os.Stderr)
	if *verbosePtr {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	sup, err := registry.NewSupervisor(cfg, logger)
	if err != nil {
		level.Error(logger).Log("message", "failed to instantiate supervisor", "error", err)
		os.Exit(1)
	}

	if err := sup.Run(context.Background()); err != nil {
		level.Error(logger).Log("message", "supervisor exited with error", "error", err)
		os.Exit(1)
	}
}
