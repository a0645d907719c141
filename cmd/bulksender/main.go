package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bulksender/internal/app"
	"bulksender/internal/recipient"
	"bulksender/internal/sheet"
)

func main() {
	var (
		cfgPath    string
		importPath string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.StringVar(&importPath, "import", "", "print the numbers found in a spreadsheet, csv or text file and exit")
	flag.Parse()

	if importPath != "" {
		if err := printNumbers(importPath); err != nil {
			fmt.Fprintln(os.Stderr, "import:", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func printNumbers(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	found, err := sheet.Import(filepath.Base(path), f)
	if err != nil {
		return err
	}
	c := recipient.NewCollector()
	c.AddAll(found)
	for _, n := range c.Numbers() {
		fmt.Println(n)
	}
	fmt.Fprintf(os.Stderr, "%d numbers (%d duplicates dropped)\n", c.Len(), len(found)-c.Len())
	return nil
}
