package main

import (
	"errors"
	"os"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Settlementis/aeswrapper"
	"github.com/bartossh/Settlementis/configuration"
	"github.com/bartossh/Settlementis/fileoperations"
	"github.com/bartossh/Settlementis/logo"
	"github.com/bartossh/Settlementis/wallet"
)

const (
	actionFromPemToGob = iota
	actionFromGobToPem
	actionNewWallet
	actionAddress
)

const usage = `Wallet CLI tool creates the custodial fee payer key or the approver key and transforms keys between formats.
The fee payer key is kept in the GOBINARY file encrypted with the AES key derived from the configured passphrase.
PEM files are not encrypted, keep them on the approver machine only.`

func main() {
	logo.Display()

	var pem, config string

	configurator := func() (configuration.Configuration, error) {
		if config == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}

		cfg, err := configuration.Read(config)
		if err != nil {
			return cfg, err
		}

		return cfg, nil
	}

	action := func(a int) func(*cli.Context) error {
		return func(_ *cli.Context) error {
			cfg, err := configurator()
			if err != nil {
				return err
			}
			if err := run(a, pem, cfg.FileOperator); err != nil {
				return err
			}
			pterm.Info.Println("----------")
			pterm.Info.Println(" SUCCESS !")
			pterm.Info.Println("----------")
			return nil
		}
	}

	app := &cli.App{
		Name:  "wallet",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "pem",
				Aliases:     []string{"p"},
				Usage:       "Load wallet from PEM `FILE` path. Your path shall look like that 'path/to/wallet' and the files are 'wallet' and 'wallet.pub'.",
				Destination: &pem,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &config,
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "new",
				Aliases: []string{"n"},
				Usage:   "Creates new wallet and saves it to encrypted GOBINARY file and PEM format.",
				Action:  action(actionNewWallet),
			},
			{
				Name:    "topem",
				Aliases: []string{"tp"},
				Usage:   "Reads GOBINARY and saves it to PEM file format.",
				Action:  action(actionFromGobToPem),
			},
			{
				Name:    "togob",
				Aliases: []string{"tg"},
				Usage:   "Reads PEM file format and saves it to GOBINARY encrypted file format.",
				Action:  action(actionFromPemToGob),
			},
			{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Prints the ledger address of the GOBINARY wallet.",
				Action:  action(actionAddress),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func run(action int, pem string, cfg fileoperations.Config) error {
	h := fileoperations.New(cfg, aeswrapper.New())
	switch action {
	case actionNewWallet:
		if pem == "" {
			return errors.New("please specify PEM path with -p <path>")
		}
		w, err := wallet.New()
		if err != nil {
			return err
		}
		if err := h.SaveWallet(&w); err != nil {
			return err
		}
		if err := h.SaveToPem(&w, pem); err != nil {
			return err
		}
		pterm.Info.Printfln("wallet address %s", w.Address())
		return nil
	case actionFromGobToPem:
		w, err := h.ReadWallet()
		if err != nil {
			return err
		}
		return h.SaveToPem(&w, pem)
	case actionFromPemToGob:
		w, err := h.ReadFromPem(pem)
		if err != nil {
			return err
		}
		return h.SaveWallet(&w)
	case actionAddress:
		w, err := h.ReadWallet()
		if err != nil {
			return err
		}
		pterm.Info.Printfln("wallet address %s", w.Address())
		return nil
	default:
		return errors.New("unimplemented action")
	}
}
