// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// coralctl is a command line client for a running corald node.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/coral-colony/corald/coralconfig/version"
	"github.com/coral-colony/corald/coralutil/er"
)

const defaultRPCServer = "http://localhost:3100"

// actionDecorator converts an er.R returning action into the error
// contract urfave/cli expects.
func actionDecorator(f func(*cli.Context) er.R) func(*cli.Context) error {
	return func(c *cli.Context) error {
		if err := f(c); err != nil {
			return err.Native()
		}
		return nil
	}
}

func fatal(err er.R) {
	fmt.Fprintf(os.Stderr, "[coralctl] %s\n", err.Message())
	os.Exit(1)
}

func main() {
	version.SetUserAgentName("coralctl")

	app := cli.NewApp()
	app.Name = "coralctl"
	app.Version = version.Version()
	app.Usage = "control plane utility for corald"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: defaultRPCServer,
			Usage: "base URL of the corald business logic server",
		},
	}
	app.Commands = []cli.Command{
		healthCommand,
		sendCommand,
		peersCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(er.E(err))
	}
}
