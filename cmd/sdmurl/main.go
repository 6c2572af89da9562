// Command sdmurl generates and verifies NTAG 424 DNA SDM tap URLs offline,
// simulating what the tag mirrors on each read. Useful for backend
// development without a reader.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/barnettlynn/tagprov/pkg/ntag424"
)

func main() {
	var (
		uidHex     = flag.String("uid", "", "14-char hex string (7-byte tag UID, required)")
		counter    = flag.Uint("ctr", 0, "SDM read counter value")
		sdmKeyFile = flag.String("sdm-key-file", "keys/sdm.hex", "Path to SDM key .hex file")
		baseURL    = flag.String("url", "https://example.com/tap", "Base URL")
		verify     = flag.Bool("verify", false, "Self-verify the generated URL")
		checkURL   = flag.String("check", "", "Verify an existing tap URL instead of generating one")
		verbose    = flag.Bool("v", false, "Enable debug logging")
		logFormat  = flag.String("log-format", "text", "Log format: text or json")
	)
	flag.Parse()

	setupLogging(*verbose, *logFormat)

	sdmKey, err := ntag424.LoadKeyHexFile(*sdmKeyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading SDM key: %v\n", err)
		os.Exit(1)
	}

	if *checkURL != "" {
		match, counter, computed, err := ntag424.VerifySDMMACDetailed(*checkURL, sdmKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error verifying URL: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Counter:  %d\n", counter)
		fmt.Printf("Computed: %s\n", computed)
		if match {
			fmt.Printf("Verify:   OK\n")
			return
		}
		fmt.Printf("Verify:   FAILED\n")
		os.Exit(1)
	}

	if *uidHex == "" {
		fmt.Fprintf(os.Stderr, "Error: -uid is required\n")
		flag.Usage()
		os.Exit(1)
	}
	uid, err := hex.DecodeString(*uidHex)
	if err != nil || len(uid) != 7 {
		fmt.Fprintf(os.Stderr, "Error: UID must be 14 hex characters (7 bytes)\n")
		os.Exit(1)
	}
	if *counter > 0xFFFFFF {
		fmt.Fprintf(os.Stderr, "Error: counter must be <= 0xFFFFFF, got %d\n", *counter)
		os.Exit(1)
	}

	slog.Debug("generating SDM URL", "base_url", *baseURL, "counter", *counter)
	generatedURL, err := ntag424.GenerateSDMURL(*baseURL, uid, uint32(*counter), sdmKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating SDM URL: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("SDM key: %s\n", *sdmKeyFile)
	fmt.Printf("UID:     %s\n", *uidHex)
	fmt.Printf("Counter: %d\n", *counter)
	fmt.Printf("URL:     %s\n", generatedURL)

	if *verify {
		match, err := ntag424.VerifySDMMAC(generatedURL, sdmKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error verifying URL: %v\n", err)
			os.Exit(1)
		}
		if match {
			fmt.Printf("Verify:  OK\n")
		} else {
			fmt.Printf("Verify:  FAILED\n")
			os.Exit(1)
		}
	}
}

func setupLogging(verbose bool, format string) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
