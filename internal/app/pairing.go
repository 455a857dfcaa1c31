package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"ledger.fit/recon/internal/cli"
	"ledger.fit/recon/internal/db"
	"ledger.fit/recon/internal/logging"
	"ledger.fit/recon/internal/pairing"
)

func runSuggest(args []string) int {
	fs := flag.NewFlagSet("suggest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	invoiceID := fs.Int64("invoice", 0, "Canonical invoice id (required)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *invoiceID <= 0 {
		fmt.Fprintln(os.Stderr, "--invoice is required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc, pool, code := pairingService(ctx, envLoader)
	if code != 0 {
		return code
	}
	defer pool.Close()

	results, err := svc.Suggest(ctx, *invoiceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Suggest failed: %v\n", err)
		return 1
	}

	fmt.Printf("invoice=%d candidates=%d\n", *invoiceID, len(results))
	for _, r := range results {
		fmt.Printf("delivery_note=%d score=%d status=%s matched_lines=%d\n",
			r.DeliveryNoteID, r.Score, r.Status, r.MatchedLines)
		for _, reason := range r.Reasons {
			fmt.Printf("  reason: %s\n", reason)
		}
	}
	return 0
}

func runAutoPair(args []string) int {
	fs := flag.NewFlagSet("autopair", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	invoiceID := fs.Int64("invoice", 0, "Canonical invoice id (required)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *invoiceID <= 0 {
		fmt.Fprintln(os.Stderr, "--invoice is required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc, pool, code := pairingService(ctx, envLoader)
	if code != 0 {
		return code
	}
	defer pool.Close()

	match, err := svc.AutoPair(ctx, *invoiceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Auto-pair failed: %v\n", err)
		return 1
	}
	if match == nil {
		fmt.Println("no candidate cleared the auto-pair threshold")
		return 0
	}
	fmt.Printf("match_id=%d invoice=%d delivery_note=%d score=%d status=%s\n",
		match.MatchID, match.InvoiceID, match.DeliveryNoteID, match.Score, match.Status)
	return 0
}

func runConfirm(args []string) int {
	fs := flag.NewFlagSet("confirm", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	invoiceID := fs.Int64("invoice", 0, "Canonical invoice id (required)")
	deliveryNoteID := fs.Int64("delivery-note", 0, "Canonical delivery note id (required)")
	confirmedBy := fs.String("by", "cli", "Reviewer identifier recorded on the match")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *invoiceID <= 0 || *deliveryNoteID <= 0 {
		fmt.Fprintln(os.Stderr, "--invoice and --delivery-note are required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc, pool, code := pairingService(ctx, envLoader)
	if code != 0 {
		return code
	}
	defer pool.Close()

	match, err := svc.Confirm(ctx, *invoiceID, *deliveryNoteID, *confirmedBy)
	if err != nil {
		if errors.Is(err, pairing.ErrDeliveryNoteTaken) {
			fmt.Fprintln(os.Stderr, "Conflict: delivery note already linked to another invoice")
			return 3
		}
		fmt.Fprintf(os.Stderr, "Confirm failed: %v\n", err)
		return 1
	}
	fmt.Printf("match_id=%d invoice=%d delivery_note=%d score=%d status=%s\n",
		match.MatchID, match.InvoiceID, match.DeliveryNoteID, match.Score, match.Status)
	return 0
}

func runReject(args []string) int {
	fs := flag.NewFlagSet("reject", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	invoiceID := fs.Int64("invoice", 0, "Canonical invoice id (required)")
	deliveryNoteID := fs.Int64("delivery-note", 0, "Canonical delivery note id (required)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *invoiceID <= 0 || *deliveryNoteID <= 0 {
		fmt.Fprintln(os.Stderr, "--invoice and --delivery-note are required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc, pool, code := pairingService(ctx, envLoader)
	if code != 0 {
		return code
	}
	defer pool.Close()

	if err := svc.Reject(ctx, *invoiceID, *deliveryNoteID); err != nil {
		fmt.Fprintf(os.Stderr, "Reject failed: %v\n", err)
		return 1
	}
	fmt.Printf("rejected invoice=%d delivery_note=%d\n", *invoiceID, *deliveryNoteID)
	return 0
}

func runLines(args []string) int {
	fs := flag.NewFlagSet("lines", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	matchID := fs.Int64("match", 0, "Match id (required)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *matchID <= 0 {
		fmt.Fprintln(os.Stderr, "--match is required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc, pool, code := pairingService(ctx, envLoader)
	if code != 0 {
		return code
	}
	defer pool.Close()

	links, err := svc.LineMatches(ctx, *matchID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lines failed: %v\n", err)
		return 1
	}

	fmt.Printf("match=%d lines=%d\n", *matchID, len(links))
	for _, link := range links {
		invLine, dnLine := "-", "-"
		if link.HasInvoiceID {
			invLine = fmt.Sprintf("%d", link.InvoiceLineID)
		}
		if link.HasDNID {
			dnLine = fmt.Sprintf("%d", link.DNLineID)
		}
		fmt.Printf("invoice_line=%s dn_line=%s status=%s score=%.2f\n", invLine, dnLine, link.Status, link.Score)
	}
	return 0
}

func pairingService(ctx context.Context, envLoader *cli.EnvLoader) (*pairing.Service, *db.Pool, int) {
	cfg, logger, pool, err := bootstrap(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
		return nil, nil, 1
	}
	svc := pairing.NewService(pool, pairingConfig(cfg), cfg.TxRetries, logging.Component(logger, "pairing"))
	return svc, pool, 0
}
