package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/bartossh/Settlementis/client"
	"github.com/bartossh/Settlementis/logo"
	"github.com/bartossh/Settlementis/natsclient"
	"github.com/bartossh/Settlementis/orchestrator"
	"github.com/bartossh/Settlementis/payment"
	"github.com/bartossh/Settlementis/server"
	"github.com/bartossh/Settlementis/wallet"
)

const usage = `Approver client of the Settlement API. Starts payment batches from the YAML file, streams the batch events
and signs every phase transaction locally with the approver wallet read from the PEM file.`

const timeout = time.Second * 5

type cliLogger struct{}

func (cliLogger) Debug(msg string) {}
func (cliLogger) Info(msg string)  { pterm.Info.Println(msg) }
func (cliLogger) Warn(msg string)  { pterm.Warning.Println(msg) }
func (cliLogger) Error(msg string) { pterm.Error.Println(msg) }
func (cliLogger) Fatal(msg string) { pterm.Fatal.Println(msg) }

func main() {
	logo.Display()

	var url, pem, natsAddress, batchFile, batchID, id string
	var yes bool

	connect := func() (*client.Rest, error) {
		if pem == "" {
			return nil, errors.New("please specify approver wallet with -p <path to pem file>")
		}
		w, err := wallet.ReadFromPem(pem)
		if err != nil {
			return nil, err
		}
		r := client.NewRest(url, timeout, &w)
		if err := r.ValidateApiVersion(); err != nil {
			return nil, err
		}
		if err := r.Authenticate(); err != nil {
			return nil, err
		}
		return r, nil
	}

	batchIDFlag := &cli.StringFlag{Name: "batch", Aliases: []string{"b"}, Usage: "Batch `ID`", Destination: &batchID, Required: true}

	app := &cli.App{
		Name:  "client",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "url",
				Aliases:     []string{"u"},
				Value:       "http://localhost:8080",
				Usage:       "Settlement API `URL`",
				Destination: &url,
			},
			&cli.StringFlag{
				Name:        "pem",
				Aliases:     []string{"p"},
				Usage:       "Load approver wallet from PEM `FILE` path.",
				Destination: &pem,
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "execute",
				Aliases: []string{"e"},
				Usage:   "Executes the batch from the YAML file and signs its phases.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Batch YAML `FILE`", Destination: &batchFile, Required: true},
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Sign every phase without asking", Destination: &yes},
				},
				Action: func(cCtx *cli.Context) error {
					r, err := connect()
					if err != nil {
						return err
					}
					batch, err := readBatch(batchFile)
					if err != nil {
						return err
					}
					return execute(r, batch, yes)
				},
			},
			{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Prints status of the batch run.",
				Flags:   []cli.Flag{batchIDFlag},
				Action: func(cCtx *cli.Context) error {
					r, err := connect()
					if err != nil {
						return err
					}
					s, err := r.Status(batchID)
					if err != nil {
						return err
					}
					printStatus(s)
					return nil
				},
			},
			{
				Name:  "cancel",
				Usage: "Cancels the batch run before the next phase is submitted.",
				Flags: []cli.Flag{batchIDFlag},
				Action: func(cCtx *cli.Context) error {
					r, err := connect()
					if err != nil {
						return err
					}
					s, err := r.Cancel(batchID)
					if err != nil {
						return err
					}
					printStatus(s)
					return nil
				},
			},
			{
				Name:  "submission",
				Usage: "Re-checks the ledger status of the submission after the confirmation timeout.",
				Flags: []cli.Flag{&cli.StringFlag{Name: "id", Usage: "Submission `ID`", Destination: &id, Required: true}},
				Action: func(cCtx *cli.Context) error {
					r, err := connect()
					if err != nil {
						return err
					}
					s, err := r.Submission(id)
					if err != nil {
						return err
					}
					pterm.Info.Printfln("submission %s is %s %s", s.SubmissionID, s.Status, s.Error)
					return nil
				},
			},
			{
				Name:  "record",
				Usage: "Reads and verifies the audit record.",
				Flags: []cli.Flag{&cli.StringFlag{Name: "id", Usage: "Record `ID`", Destination: &id, Required: true}},
				Action: func(cCtx *cli.Context) error {
					r, err := connect()
					if err != nil {
						return err
					}
					rec, err := r.Record(id)
					if err != nil {
						return err
					}
					pterm.Info.Printfln("record %s invoice %s amount %s hash %s", rec.Record.ID,
						rec.Record.Essential.InvoiceNumber, rec.Record.Essential.Amount, rec.Record.EssentialHash)
					if !rec.Verified {
						return fmt.Errorf("record %s verification failed: %s", rec.Record.ID, rec.Error)
					}
					pterm.Success.Println("fingerprint verified")
					return nil
				},
			},
			{
				Name:  "watch",
				Usage: "Watches the batch events published on the NATS queue.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "batch", Aliases: []string{"b"}, Usage: "Batch `ID`, all batches when empty", Destination: &batchID},
					&cli.StringFlag{Name: "nats", Aliases: []string{"n"}, Value: "nats://localhost:4222", Usage: "NATS server `ADDRESS`", Destination: &natsAddress},
				},
				Action: func(cCtx *cli.Context) error {
					return watch(natsClientConfig(natsAddress), batchID)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func natsClientConfig(addr string) natsclient.Config {
	return natsclient.Config{Address: addr, Name: "settlement-client", Token: os.Getenv("SETTLEMENT_NATS_TOKEN")}
}

func readBatch(path string) (payment.PaymentBatch, error) {
	var b payment.PaymentBatch
	buf, err := os.ReadFile(path)
	if err != nil {
		return b, err
	}
	if err := yaml.Unmarshal(buf, &b); err != nil {
		return b, fmt.Errorf("in file %q: %w", path, err)
	}
	return b, nil
}

func printStatus(s orchestrator.Status) {
	pterm.Info.Printfln("batch %s is %s at invoice %d/%d phase %s, records %v", s.BatchID, s.State, s.InvoiceIndex+1, s.Invoices, s.Phase, s.Records)
	if s.Error != nil {
		pterm.Error.Printfln("%s at invoice %d phase %s: %s", s.Error.Kind, s.Error.InvoiceIndex, s.Error.Phase, s.Error.Reason)
	}
}

func interrupted() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func execute(r *client.Rest, batch payment.PaymentBatch, yes bool) error {
	res, err := r.Execute(batch)
	if err != nil {
		return err
	}
	pterm.Info.Printfln("batch %s accepted", res.BatchID)

	ctx, cancel := interrupted()
	defer cancel()

	var final *orchestrator.Status
	err = r.Events(ctx, res.BatchID, func(m server.Message) {
		switch {
		case m.Event != nil:
			e := m.Event
			pterm.Info.Printfln("%s invoice %d %s: %s", e.State, e.InvoiceIndex, e.Phase, e.Detail)
			if e.SignRequestID != "" {
				go sign(ctx, r, res.BatchID, e, yes)
			}
		case m.Status != nil:
			final = m.Status
		}
	})
	if err != nil {
		return err
	}
	if final != nil {
		printStatus(*final)
		if final.State == orchestrator.StateFailed {
			return errors.New("batch failed")
		}
	}
	return nil
}

func sign(ctx context.Context, r *client.Rest, batchID string, e *orchestrator.Event, yes bool) {
	if !yes {
		ok, _ := pterm.DefaultInteractiveConfirm.Show(fmt.Sprintf("Sign %s phase of invoice %d?", e.Phase, e.InvoiceIndex))
		if !ok {
			if err := r.Reject(batchID, e.SignRequestID); err != nil {
				pterm.Error.Println(err.Error())
			}
			return
		}
	}
	if err := r.SignRequest(ctx, batchID, e.SignRequestID); err != nil {
		pterm.Error.Println(err.Error())
		return
	}
	pterm.Success.Printfln("%s phase of invoice %d signed", e.Phase, e.InvoiceIndex)
}

func watch(cfg natsclient.Config, batchID string) error {
	sub, err := natsclient.SubscriberConnect(cfg, cliLogger{})
	if err != nil {
		return err
	}
	defer sub.Disconnect()

	ctx, cancel := interrupted()
	defer cancel()

	s, err := sub.SubscribeBatchEvents(batchID, func(e orchestrator.Event) {
		pterm.Info.Printfln("batch %s %s invoice %d %s: %s", e.BatchID, e.State, e.InvoiceIndex, e.Phase, e.Detail)
	})
	if err != nil {
		return err
	}
	defer s.Unsubscribe()
	<-ctx.Done()
	return nil
}
