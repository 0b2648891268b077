// sahay-check walks the audit hash chain directly against the database and
// reports the first broken link. Intended for operators and external
// auditors; it needs only read access.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/sahay/backend/internal/audit"
	"github.com/sahay/backend/internal/database"
)

func main() {
	var (
		dbURL = flag.String("db", os.Getenv("DATABASE_URL"), "postgres connection url")
		from  = flag.Int64("from", 1, "first sequence number to verify")
		to    = flag.Int64("to", 0, "last sequence number to verify (0 = head)")
	)
	flag.Parse()

	_ = godotenv.Load()
	if *dbURL == "" {
		*dbURL = os.Getenv("DATABASE_URL")
	}
	if *dbURL == "" {
		log.Fatal("set -db or DATABASE_URL")
	}

	store, err := database.Open(*dbURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := audit.NewChain(store).Verify(ctx, *from, *to)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}

	if res.OK {
		fmt.Printf("chain intact: %d entries verified\n", res.Checked)
		return
	}
	fmt.Printf("chain BROKEN at seq %d (%d entries checked)\n", res.FirstBrokenSeq, res.Checked)
	os.Exit(1)
}
