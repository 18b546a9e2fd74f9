package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/workflow"
)

func main() {
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing lots and continue recounting others")
	timeout := flag.Duration("timeout", 10*time.Minute, "Give up after this long")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	defer config.CloseDatabase()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := workflow.RecountAllLots(ctx, config.GetLogger(), *continueOnError)
	if result != nil {
		fmt.Printf("recounted %d lots, %d failed\n", result.Recounted, len(result.Failed))
		if len(result.Failed) > 0 {
			fmt.Printf("failed lots: %v\n", result.Failed)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "lot recount failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("lot recount complete")
}
