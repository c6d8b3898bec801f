// shielded-update appends today's shielded supply to an existing dataset file, or
// replaces today's entry when one was already written.
//
// Usage: shielded-update [-file=<path>]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/codyseavey/zec-tracker/internal/format"
	"github.com/codyseavey/zec-tracker/internal/zcash"
)

func main() {
	path := flag.String("file", "./data/shielded-pool-data.json", "Dataset file to update in place")
	flag.Parse()

	dataset, err := zcash.LoadDataset(*path)
	if err != nil {
		log.Fatalf("Failed to load existing data: %v", err)
	}
	log.Printf("Loaded %d existing entries", len(dataset.Data))

	rpcURL := os.Getenv("ZCASH_RPC_URL")
	if rpcURL == "" {
		rpcURL = "http://127.0.0.1:8232"
	}
	client := zcash.NewClient(rpcURL, zcash.Options{
		User:     os.Getenv("ZCASH_RPC_USER"),
		Password: os.Getenv("ZCASH_RPC_PASSWORD"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	entry, appended, err := zcash.UpdateDaily(ctx, client, dataset)
	if errors.Is(err, zcash.ErrNodeUnreachable) {
		fmt.Fprintf(os.Stderr, "Failed to connect to Zcash node at %s: %v\n", rpcURL, err)
		fmt.Fprintln(os.Stderr, "Check that the node is running and ZCASH_RPC_USER/ZCASH_RPC_PASSWORD are set.")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Failed to fetch latest block: %v", err)
	}

	day := time.Unix(entry.T, 0).UTC().Format("2006-01-02")
	log.Printf("Block %d | %s | Total: %s ZEC", entry.H, day, format.Supply(entry.V))
	if appended {
		log.Printf("Appended new entry for %s", day)
	} else {
		log.Printf("Updated existing entry for %s", day)
	}

	if err := dataset.Save(*path); err != nil {
		log.Fatalf("Failed to save dataset: %v", err)
	}
	log.Printf("Saved %s (%d entries)", *path, len(dataset.Data))
}
