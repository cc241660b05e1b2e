// Command pay sends a single Permit2 payment and prints every state
// transition of the attempt.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fxpay/app"
	"fxpay/config"
	"fxpay/logger"
	"fxpay/payment"
)

func main() {
	configPath := flag.String("config", os.Getenv("FXPAY_CONFIG"), "path to YAML config")
	to := flag.String("to", "", "recipient address")
	amount := flag.String("amount", "", "amount in payment token units, e.g. 12.50")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall time limit")
	flag.Parse()

	if *to == "" || *amount == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := config.LoadEnv(); err != nil {
		log.Fatalf("load env: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync()

	a, err := app.Build(cfg, lg, nil)
	if err != nil {
		lg.Fatal("Failed to build client", zap.Error(err))
	}
	defer a.Close()
	if err := a.RequireWallet(); err != nil {
		lg.Fatal("Cannot pay", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	transitions, unsubscribe := a.Payments.Subscribe(32)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for t := range transitions {
			line := fmt.Sprintf("%s  %-10s -> %s", t.At.Format(time.TimeOnly), t.From, t.To)
			if t.Err != nil {
				line += "  (" + t.Err.Error() + ")"
			}
			fmt.Println(line)
			if t.To.Terminal() || (t.To == payment.StateIdle && t.Err != nil) {
				return
			}
		}
	}()

	attempt, err := a.Payments.Submit(ctx, payment.Request{Recipient: *to, Amount: *amount})
	select {
	case <-printed:
	case <-time.After(time.Second):
	}
	unsubscribe()

	if attempt.Warning != "" {
		fmt.Println("warning:", attempt.Warning)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "payment failed:", err)
		if attempt.Broadcast() {
			fmt.Fprintln(os.Stderr, "transaction:", attempt.TxHash.Hex())
		}
		os.Exit(1)
	}
	fmt.Printf("paid %s to %s\n", attempt.AmountText, attempt.Recipient.Hex())
	fmt.Println("transaction:", attempt.TxHash.Hex())
	if attempt.ExplorerURL != "" {
		fmt.Println(attempt.ExplorerURL)
	}
}
