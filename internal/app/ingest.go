package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"ledger.fit/recon/internal/assembly"
	"ledger.fit/recon/internal/cli"
	"ledger.fit/recon/internal/logging"
)

// batchManifest is the on-disk shape of an ingest batch: a label plus
// the per-file page-extraction payloads in page order.
type batchManifest struct {
	Label string `json:"label"`
	Files []struct {
		Filename string            `json:"filename"`
		Pages    []json.RawMessage `json:"pages"`
	} `json:"files"`
}

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	batchFile := fs.String("batch-file", "", "Path to the batch manifest JSON (required)")
	label := fs.String("label", "", "Batch label (overrides the manifest label)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if strings.TrimSpace(*batchFile) == "" {
		fmt.Fprintln(os.Stderr, "--batch-file is required")
		return 2
	}

	raw, err := os.ReadFile(*batchFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read batch file: %v\n", err)
		return 2
	}
	var manifest batchManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid batch manifest: %v\n", err)
		return 2
	}
	if len(manifest.Files) == 0 {
		fmt.Fprintln(os.Stderr, "Batch manifest contains no files")
		return 2
	}

	files := make([]assembly.FilePayload, 0, len(manifest.Files))
	for _, f := range manifest.Files {
		files = append(files, assembly.FilePayload{Filename: f.Filename, Pages: f.Pages})
	}
	batchLabel := manifest.Label
	if strings.TrimSpace(*label) != "" {
		batchLabel = *label
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg, logger, pool, err := bootstrap(ctx, envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := assembly.NewService(pool, cfg, logging.Component(logger, "assembly"))
	result, err := svc.Ingest(ctx, batchLabel, files)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}

	fmt.Printf("batch_id=%d batch_uuid=%s\n", result.BatchID, result.BatchUUID)
	fmt.Printf("pages_ingested=%d pages_failed=%d duplicate_groups=%d stitch_groups=%d\n",
		result.PagesIngested, result.PagesFailed, result.DuplicateGroups, result.StitchGroups)
	fmt.Printf("invoices=%d documents=%d\n", len(result.Invoices), len(result.Documents))
	for _, inv := range result.Invoices {
		fmt.Printf("invoice id=%d supplier=%q number=%q total_pennies=%d warnings=%d\n",
			inv.ID, inv.SupplierName, inv.InvoiceNumber, inv.TotalPennies, len(inv.Warnings))
	}
	for _, doc := range result.Documents {
		fmt.Printf("document id=%d type=%s supplier=%q number=%q\n",
			doc.ID, doc.DocType, doc.SupplierName, doc.DocumentNumber)
	}
	for _, failure := range result.Failures {
		fmt.Printf("failure file=%q page=%d reason=%q\n", failure.Filename, failure.PageIndex, failure.Reason)
	}
	return 0
}
