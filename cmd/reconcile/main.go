// Command reconcile runs a batch reconciliation from the operator's shell:
// a full backfill by default, or the subset affected by one role or
// department.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"trainhub.org/internal/store/pg"
	"trainhub.org/internal/training"
)

func main() {
	log.SetFlags(0)
	var (
		dsn        = flag.String("dsn", os.Getenv("TRAINHUB_PG_DSN"), "PostgreSQL DSN")
		roleID     = flag.String("role", "", "Limit the run to holders of this role")
		department = flag.String("department", "", "Limit the run to members of this department")
		workers    = flag.Int("workers", 0, "Worker pool size (0 = default)")
		timeout    = flag.Duration("timeout", 0, "Stop scheduling new users after this duration (0 = none)")
		actor      = flag.String("actor", "ops-cli", "Actor recorded in the audit trail")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TRAINHUB_PG_DSN")
	}
	if *roleID != "" && *department != "" {
		log.Fatal("-role and -department are mutually exclusive")
	}

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var opts []training.Option
	if *workers > 0 {
		opts = append(opts, training.WithWorkers(*workers))
	}
	if *timeout > 0 {
		opts = append(opts, training.WithBatchTimeout(*timeout))
	}
	svc := training.NewService(store, store, store, store, opts...)

	filter := training.Filter{RoleID: *roleID, DepartmentID: *department}

	start := time.Now()
	summary, err := svc.ReconcileAll(context.Background(), filter, *actor)
	if err != nil {
		log.Fatalf("reconcile run: %v", err)
	}

	log.Printf("run %s finished in %s", summary.RunID, time.Since(start).Round(time.Millisecond))
	log.Printf("users=%d kept=%d added=%d removed=%d errors=%d",
		summary.UsersProcessed, summary.Kept, summary.Added, summary.Removed, summary.Errors)
	if summary.Errors > 0 {
		os.Exit(1)
	}
}
