package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/bartossh/Settlementis/aeswrapper"
	"github.com/bartossh/Settlementis/audit"
	"github.com/bartossh/Settlementis/challenge"
	"github.com/bartossh/Settlementis/configuration"
	"github.com/bartossh/Settlementis/confirmation"
	"github.com/bartossh/Settlementis/feepayer"
	"github.com/bartossh/Settlementis/fileoperations"
	"github.com/bartossh/Settlementis/ledgerclient"
	"github.com/bartossh/Settlementis/logging"
	"github.com/bartossh/Settlementis/logo"
	"github.com/bartossh/Settlementis/multisig"
	"github.com/bartossh/Settlementis/natsclient"
	"github.com/bartossh/Settlementis/orchestrator"
	"github.com/bartossh/Settlementis/repomongo"
	"github.com/bartossh/Settlementis/repository"
	"github.com/bartossh/Settlementis/server"
	"github.com/bartossh/Settlementis/stdoutwriter"
	"github.com/bartossh/Settlementis/telemetry"
	"github.com/bartossh/Settlementis/validator"
	"github.com/bartossh/Settlementis/vendorlookup"
	"github.com/bartossh/Settlementis/walletbridge"
	"github.com/bartossh/Settlementis/webhooks"
	"github.com/bartossh/Settlementis/zincaddapter"
)

const usage = `The Settlement API server settles invoice batches from the multisig vault. Every phase transaction is signed by
the approver wallet, validated and co-signed by the custodial fee payer key. Each settled invoice leaves an audit record
with the essential data fingerprint written on the ledger.`

type recordStore interface {
	orchestrator.RecordStore
	server.RecordReader
}

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
		Name:  "settlement",
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
			return run(cfg)
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func connectStorage(ctx context.Context, cfg configuration.Storage) (recordStore, io.Writer, func(), error) {
	switch cfg.Backend {
	case configuration.BackendPostgres:
		db, err := repository.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, nil, err
		}
		closer := func() {
			ctxx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			db.Disconnect(ctxx)
		}
		if err := db.RunMigration(ctx); err != nil {
			closer()
			return nil, nil, nil, err
		}
		return db, db, closer, nil
	case configuration.BackendMongo:
		db, err := repomongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, nil, err
		}
		closer := func() {
			ctxx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			db.Disconnect(ctxx)
		}
		if err := db.RunMigration(ctx); err != nil {
			closer()
			return nil, nil, nil, err
		}
		return db, db, closer, nil
	default:
		return audit.NewMemoryStore(), nil, func() {}, nil
	}
}

func registerMetrics(m *telemetry.Measurements) {
	m.CreateUpdateObservableHistogram(orchestrator.MetricPhaseBuildTime, "Phase transaction build time.")
	m.CreateUpdateObservableHistogram(orchestrator.MetricSignatureWaitTime, "Time spent awaiting the approver signature.")
	m.CreateUpdateObservableHistogram(orchestrator.MetricConfirmationTime, "Time from submission to finality.")
	m.CreateUpdateObservableGauge(orchestrator.MetricBatchesInFlight, "Batches currently running.")
	m.CreateUpdateCounter(orchestrator.MetricRejections, "Transactions rejected by the security validator.")
	m.CreateUpdateCounter(orchestrator.MetricSettledInvoices, "Invoices settled with persisted audit record.")
	m.CreateUpdateCounter(orchestrator.MetricFailedBatches, "Batches halted with an error.")
}

func run(cfg configuration.Configuration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		cancel()
	}()

	store, dbWriter, closeStore, err := connectStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	writers := []io.Writer{stdoutwriter.Logger{}}
	if dbWriter != nil {
		writers = append(writers, dbWriter)
	}
	if cfg.Zinc.Address != "" {
		zinc, err := zincaddapter.New(cfg.Zinc)
		if err != nil {
			return err
		}
		writers = append(writers, &zinc)
	}

	callbackOnErr := func(err error) {
		fmt.Println("logger error: ", err)
	}

	callbackOnFatal := func(err error) {
		panic(fmt.Sprintf("fatal error: %s", err))
	}

	log := logging.New("settlement", callbackOnErr, callbackOnFatal, writers...)

	fo := fileoperations.New(cfg.FileOperator, aeswrapper.New())
	w, err := fo.ReadWallet()
	if err != nil {
		return err
	}
	log.Info(fmt.Sprintf("fee payer %s loaded", w.Address()))

	lc, err := ledgerclient.New(cfg.Ledger)
	if err != nil {
		return err
	}

	var vendors multisig.VendorLookup = vendorlookup.Static(cfg.VendorLookup.Static)
	if cfg.VendorLookup.URL != "" {
		vendors = vendorlookup.NewClient(cfg.VendorLookup)
	}

	m := telemetry.New()
	registerMetrics(m)
	go func() {
		if err := m.Run(ctx, cancel, cfg.Telemetry.Port); err != nil {
			log.Error(err.Error())
		}
	}()

	events := server.NewEvents(256)
	defer events.Close()
	notifiers := []orchestrator.Notifier{events}

	if len(cfg.Webhooks) > 0 {
		wh, err := webhooks.New(log, cfg.Webhooks...)
		if err != nil {
			return err
		}
		defer wh.Wait()
		notifiers = append(notifiers, wh)
	}

	if cfg.Nats.Address != "" {
		pub, err := natsclient.PublisherConnect(cfg.Nats, log)
		if err != nil {
			return err
		}
		defer pub.Disconnect()
		notifiers = append(notifiers, pub)
	}

	bridge := walletbridge.New(log)
	confirmer := confirmation.New(cfg.Confirmation, lc, log)
	orch := orchestrator.New(orchestrator.Components{
		Builder:   multisig.New(cfg.Multisig, w.Address(), lc, vendors, log),
		Wallet:    bridge,
		Validator: validator.New(cfg.Validator, w.Address(), lc, log),
		FeePayer:  feepayer.New(cfg.FeePayer, w, lc, log),
		Confirmer: confirmer,
		Encoder:   audit.NewEncoder(aeswrapper.New()),
		Store:     store,
		Notifiers: notifiers,
		Measurer:  m,
	}, log)

	err = server.Run(ctx, cfg.Server, server.Services{
		Executor:      orch,
		Signatures:    bridge,
		Authenticator: challenge.New(ctx, cfg.Challenge),
		Checker:       confirmer,
		Records:       store,
		Events:        events,
	}, log)
	if err != nil {
		log.Error(err.Error())
	}
	return err
}
