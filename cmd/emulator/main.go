package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/bartossh/Settlementis/configuration"
	"github.com/bartossh/Settlementis/emulator"
	"github.com/bartossh/Settlementis/logging"
	"github.com/bartossh/Settlementis/logo"
	"github.com/bartossh/Settlementis/stdoutwriter"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"
)

const usage = `Emulates the ledger node with the multisig program. Serves the JSON-RPC API the settlement server connects to.
Accounts, mints, multisigs and balances are created from the genesis section of the configuration.`

func main() {
	logo.Display()

	var file string
	configurator := func() (configuration.Configuration, error) {
		if file == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}

		cfg, err := configuration.Read(file)
		if err != nil {
			return cfg, err
		}

		return cfg, nil
	}

	app := &cli.App{
		Name:  "emulator",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &file,
			},
		},
		Action: func(cCtx *cli.Context) error {
			cfg, err := configurator()
			if err != nil {
				return err
			}
			return run(cfg.Emulator)
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func run(cfg emulator.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		cancel()
	}()

	log := logging.New("emulator",
		func(err error) { fmt.Println("logger error: ", err) },
		func(err error) { panic(fmt.Sprintf("fatal error: %s", err)) },
		stdoutwriter.Logger{},
	)

	n, err := emulator.New(cfg.ConfirmAfterPolls, cfg.Genesis)
	if err != nil {
		return err
	}
	log.Info(fmt.Sprintf("emulator serving %d mint(s) and %d multisig(s) on port %d", len(cfg.Genesis.Mints), len(cfg.Genesis.Multisigs), cfg.Port))

	return emulator.Run(ctx, cfg, n, log)
}
