package main

import (
	"bytes"
	"encoding/base64"
	"io/ioutil"
	"os"

	"github.com/urfave/cli"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/wire"
)

var sendCommand = cli.Command{
	Name:      "send",
	Usage:     "Deliver a signed event to the node's packet endpoint.",
	ArgsUsage: "event-file",
	Description: `
	Reads a signed event as JSON from the given file (or stdin when the
	file is "-"), wraps it in a payment packet and posts it to the node.
	`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "amount",
			Value: "0",
			Usage: "payment amount as an unsigned decimal string",
		},
		cli.StringFlag{
			Name:  "destination",
			Usage: "packet destination address, defaults to the node's own",
		},
	},
	Action: actionDecorator(send),
}

func send(ctx *cli.Context) er.R {
	if ctx.NArg() != 1 {
		return er.New("exactly one event file is required")
	}
	path := ctx.Args().First()
	var raw []byte
	var errr error
	if path == "-" {
		raw, errr = ioutil.ReadAll(os.Stdin)
	} else {
		raw, errr = ioutil.ReadFile(path)
	}
	if errr != nil {
		return er.E(errr)
	}
	ev, err := wire.UnmarshalEvent(raw)
	if err != nil {
		return err
	}
	data, err := wire.EncodeEventData(ev)
	if err != nil {
		return err
	}

	destination := ctx.String("destination")
	if destination == "" {
		destination = "g.self"
	}
	body, errr := json.Marshal(map[string]string{
		"amount":      ctx.String("amount"),
		"destination": destination,
		"data":        base64.StdEncoding.EncodeToString(data),
	})
	if errr != nil {
		return er.E(errr)
	}

	url := ctx.GlobalString("rpcserver") + "/handle-packet"
	resp, errr := httpClient().Post(url, "application/json", bytes.NewReader(body))
	if errr != nil {
		return er.E(errr)
	}
	defer resp.Body.Close()
	out, errr := ioutil.ReadAll(resp.Body)
	if errr != nil {
		return er.E(errr)
	}
	return printRespJSON(out)
}
