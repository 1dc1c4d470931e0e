package main

import (
	"os"

	"github.com/jedib0t/go-pretty/table"
	"github.com/urfave/cli"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/directory"
)

var peersCommand = cli.Command{
	Name:  "peers",
	Usage: "List the peers known to a directory service.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "directory",
			Usage: "directory service URL",
		},
	},
	Action: actionDecorator(peers),
}

func peers(ctx *cli.Context) er.R {
	url := ctx.String("directory")
	if url == "" {
		return er.New("--directory is required")
	}
	found, err := directory.NewHTTPResolver(url).Resolve()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Pubkey", "Relay", "ILP Address"})
	for _, p := range found {
		t.AppendRow(table.Row{p.Pubkey, p.RelayURL, p.ILPAddress})
	}
	t.Render()
	return nil
}
