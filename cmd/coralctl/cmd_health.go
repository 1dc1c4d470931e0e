package main

import (
	"bytes"
	stdjson "encoding/json"
	"io/ioutil"
	"net/http"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"

	"github.com/coral-colony/corald/coralutil/er"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var healthCommand = cli.Command{
	Name:   "health",
	Usage:  "Show the node's health and bootstrap state.",
	Action: actionDecorator(health),
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// printRespJSON re-indents a JSON body for the terminal.
func printRespJSON(raw []byte) er.R {
	var buf bytes.Buffer
	if errr := stdjson.Indent(&buf, raw, "", "    "); errr != nil {
		// Not JSON, print as-is.
		os.Stdout.Write(raw)
		return nil
	}
	buf.WriteByte('\n')
	os.Stdout.Write(buf.Bytes())
	return nil
}

func health(ctx *cli.Context) er.R {
	url := ctx.GlobalString("rpcserver") + "/health"
	resp, errr := httpClient().Get(url)
	if errr != nil {
		return er.E(errr)
	}
	defer resp.Body.Close()
	raw, errr := ioutil.ReadAll(resp.Body)
	if errr != nil {
		return er.E(errr)
	}
	if resp.StatusCode != http.StatusOK {
		return er.Errorf("health check failed: %s: %s", resp.Status, raw)
	}
	return printRespJSON(raw)
}
