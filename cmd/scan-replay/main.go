package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/kanban_backend/config"
	"bitbucket.org/mmdatafocus/kanban_backend/models"
	"bitbucket.org/mmdatafocus/kanban_backend/utils"
	"bitbucket.org/mmdatafocus/kanban_backend/workflow"
)

// Replays a batch of scans from a JSON file, typically to recover from a
// partial outage where some scans already landed. Items that already
// succeeded come back as cached replays; only genuinely missed scans commit
// new transitions.
//
// Input file shape:
//
//	[{"card_id": 42, "idempotency_key": "scan-2026-08-30-0001"}, ...]
func main() {
	tenantID := flag.String("tenant-id", "", "Required: tenant id")
	file := flag.String("file", "", "Required: path to JSON array of {card_id, idempotency_key}")
	userID := flag.Int("user-id", 0, "Operator user id recorded on the audit entries")
	dryRun := flag.Bool("dry-run", true, "Parse and list the batch only (no writes)")
	confirm := flag.String("confirm", "", "Type REPLAY to proceed when dry-run=false")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" || strings.TrimSpace(*file) == "" {
		fmt.Fprintln(os.Stderr, "--tenant-id and --file are required")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "REPLAY" {
		fmt.Fprintln(os.Stderr, "set --confirm=REPLAY to proceed")
		os.Exit(1)
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *file, err)
		os.Exit(1)
	}
	var items []workflow.ReplayScanItem
	if err := json.Unmarshal(raw, &items); err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", *file, err)
		os.Exit(1)
	}
	if len(items) == 0 {
		fmt.Println("empty batch; nothing to do")
		return
	}

	if *dryRun {
		fmt.Printf("dry run: %d item(s) for tenant %s\n", len(items), *tenantID)
		for i, item := range items {
			fmt.Printf("  [%d] card_id=%d idempotency_key=%s\n", i, item.CardId, item.IdempotencyKey)
		}
		fmt.Println("re-run with --dry-run=false --confirm=REPLAY to execute")
		return
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	logger := config.GetLogger()
	dedup := workflow.NewDedupManager(workflow.NewRedisKVStore(config.GetRedisDB()))
	orchestrator := workflow.NewLifecycleOrchestrator(
		db, logger, dedup,
		workflow.NewAuditChainWriter(db),
		workflow.NewPubSubEventPublisher(),
		models.DefaultRolePolicy(),
		config.GetRedisLock(),
	)

	var operator *int
	if *userID > 0 {
		operator = userID
	}
	ctx := utils.SetTenantIdInContext(context.Background(), *tenantID)
	results, err := orchestrator.ReplayScans(ctx, items, *tenantID, operator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}

	var okCount, failCount int
	for i, res := range results {
		if res.Success {
			okCount++
			fmt.Printf("  [%d] OK card_id=%d stage=%s\n", i, items[i].CardId, res.Card.CurrentStage)
		} else {
			failCount++
			fmt.Printf("  [%d] FAIL card_id=%d code=%s error=%s\n", i, items[i].CardId, res.ErrorCode, res.Error)
		}
	}
	fmt.Printf("done: %d ok, %d failed\n", okCount, failCount)
	if failCount > 0 {
		os.Exit(2)
	}
}
