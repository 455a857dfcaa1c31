package main

import (
	"os"

	"ledger.fit/recon/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
