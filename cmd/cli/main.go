package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

func main() {
	cmd := newRootCommand(&cliApp{})
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		}
		os.Exit(1)
	}
}

func printBanner(w io.Writer) {
	banner := `
 ____                _      ____ ____  _   _ 
|  _ \ ___ _ __ ___| |__  / ___|  _ \| | | |
| |_) / _ \ '__/ __| '_ \| |   | |_) | | | |
|  __/  __/ | | (__| | | | |___|  __/| |_| |
|_|   \___|_|  \___|_| |_|\____|_|    \___/ 

      Audio Classification Benchmark
`
	fmt.Fprintln(w, banner)
}
