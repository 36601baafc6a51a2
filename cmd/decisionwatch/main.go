// decisionwatch polls a pipeline's pending decisions and prints changes to
// stdout. It is a thin terminal front-end over the client sync engine.
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

	"pipeboard/api/internal/client"
	"pipeboard/api/internal/decision"
	syncengine "pipeboard/api/internal/sync"
)

func main() {
	baseURL := flag.String("url", envOr("PIPEBOARD_API_URL", "http://localhost:8790"), "API base URL")
	token := flag.String("token", envOr("PIPEBOARD_API_TOKEN", ""), "API bearer token")
	pipelineID := flag.String("pipeline", "", "pipeline id to watch (required)")
	interval := flag.Duration("interval", syncengine.DefaultPollInterval, "poll interval")
	once := flag.Bool("once", false, "print the pending list once and exit")
	flag.Parse()

	if *pipelineID == "" {
		fmt.Fprintln(os.Stderr, "usage: decisionwatch -pipeline <id> [-url ...] [-token ...]")
		os.Exit(2)
	}

	repo := client.New(*baseURL, *token)
	engine := syncengine.New(repo, *pipelineID, *interval)
	defer engine.Close()

	ctx := context.Background()
	items, err := engine.RefreshPending(ctx)
	if err != nil {
		log.Fatalf("initial refresh failed: %v", err)
	}
	printPending(*pipelineID, items)

	if *once {
		return
	}

	engine.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	lastSeen := fingerprint(items)
	for {
		select {
		case <-sigCh:
			return
		case <-ticker.C:
			snap := engine.Snapshot()
			if snap.LastErr != nil {
				log.Printf("sync error: %v", snap.LastErr)
				continue
			}
			if fp := fingerprint(snap.Pending); fp != lastSeen {
				lastSeen = fp
				printPending(*pipelineID, snap.Pending)
			}
		}
	}
}

func printPending(pipelineID string, items []decision.Decision) {
	now := time.Now()
	fmt.Printf("-- %s: %d pending decision(s) at %s --\n", pipelineID, len(items), now.Format(time.RFC3339))
	for _, d := range items {
		marker := " "
		if decision.IsExpiringSoon(d, now) {
			marker = "!"
		}
		deadline := "no deadline"
		if d.Deadline != nil {
			deadline = "due " + d.Deadline.Format(time.RFC3339)
		}
		fmt.Printf("%s [%s/%s] %s  %s (%d options)\n", marker, d.Urgency, d.Type, d.Title, deadline, len(d.Options))
	}
}

func fingerprint(items []decision.Decision) string {
	fp := ""
	for _, d := range items {
		fp += d.ID + "@" + d.UpdatedAt.Format(time.RFC3339Nano) + ";"
	}
	return fp
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
