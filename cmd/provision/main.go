// Command provision runs a full NTAG 424 DNA provisioning pass against the
// tag in the reader: reads version and UID, writes the SDM NDEF template,
// and configures the NDEF file for per-tap UID/counter/MAC mirroring.
//
// The job is described by a YAML config; see internal/config.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/barnettlynn/tagprov/internal/config"
	"github.com/barnettlynn/tagprov/pkg/ntag424"
)

func main() {
	var (
		cfgPath   = flag.String("config", "config.yaml", "Path to provisioning config YAML")
		assumeYes = flag.Bool("yes", false, "Skip the confirmation prompt before changing the tag")
		verbose   = flag.Bool("v", false, "Enable debug logging")
		logFormat = flag.String("log-format", "text", "Log format: text or json")
	)
	flag.Parse()

	setupLogging(*verbose, *logFormat)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *assumeYes); err != nil {
		fmt.Fprintf(os.Stderr, "Provisioning failed: %v\n", err)
		if ntag424.IsAuthDelay(err) {
			fmt.Fprintln(os.Stderr, "The tag's authentication delay is active; wait before retrying.")
		}
		os.Exit(1)
	}
	fmt.Println("Provisioning complete.")
}

func run(cfg *config.Config, assumeYes bool) error {
	masterKey, err := ntag424.LoadKeyHexFile(cfg.Auth.MasterKeyHexFile)
	if err != nil {
		return fmt.Errorf("load master key: %w", err)
	}

	rdr, err := ntag424.OpenReader(cfg.Runtime.Reader)
	if err != nil {
		return err
	}
	defer rdr.Close()
	slog.Info("reader connected", "reader", rdr.Name())

	raw := ntag424.NewRawChannel(rdr)

	version, err := raw.GetVersion()
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	slog.Info("tag identified",
		"uid", strings.ToUpper(hex.EncodeToString(version.UID)),
		"hw", fmt.Sprintf("%d.%d", version.HWMajorVer, version.HWMinorVer),
		"storage", fmt.Sprintf("0x%02X", version.HWStorageSize))

	tpl, err := ntag424.BuildSDMTemplate(cfg.URL)
	if err != nil {
		return fmt.Errorf("build NDEF template: %w", err)
	}
	slog.Debug("SDM template built",
		"url", tpl.URL,
		"uid_offset", tpl.UIDOffset,
		"ctr_offset", tpl.CtrOffset,
		"mac_offset", tpl.MACOffset)

	settingsOnly := *cfg.Runtime.SettingsOnly
	forcePlain := *cfg.Runtime.ForcePlain

	// Everything past this point rewrites the tag.
	if !assumeYes {
		if err := confirmProvisioning(version.UID, cfg.URL); err != nil {
			return err
		}
	}

	// The plain NDEF write goes through the ISO wrappers and must happen
	// before authentication: SELECT invalidates a session.
	if !settingsOnly && forcePlain {
		if err := raw.WriteNDEF(tpl.NDEF); err != nil {
			return fmt.Errorf("write NDEF (plain): %w", err)
		}
		slog.Info("NDEF written", "mode", "plain", "bytes", len(tpl.NDEF))
	}

	if err := raw.SelectApplication(); err != nil {
		return fmt.Errorf("select application: %w", err)
	}

	auth, err := raw.AuthenticateEV2First(masterKey, byte(*cfg.Auth.MasterKeyNo))
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	defer auth.Close()

	fileNo := byte(*cfg.SDM.FileNo)

	before, err := auth.GetFileSettings(fileNo)
	if err != nil {
		return fmt.Errorf("read file settings: %w", err)
	}
	slog.Debug("current file settings",
		"file_no", fileNo,
		"file_option", fmt.Sprintf("0x%02X", before.FileOption),
		"ar1", fmt.Sprintf("0x%02X", before.AR1),
		"ar2", fmt.Sprintf("0x%02X", before.AR2))

	if !settingsOnly && !forcePlain {
		written, err := auth.WriteData(fileNo, 0, tpl.NDEF, ntag424.CommModeFull)
		if err != nil {
			return fmt.Errorf("write NDEF (secure, %d bytes written): %w", written, err)
		}
		slog.Info("NDEF written", "mode", "full", "bytes", written)
	}

	writeKeyNo := byte(*cfg.Auth.WriteKeyNo)
	sdmKeyNo := byte(*cfg.SDM.SDMKeyNo)
	update := ntag424.FileSettingsUpdate{
		CommMode: ntag424.CommModePlain,
		// Read free, write with the write key, change rights with key 0.
		AR1: writeKeyNo<<4 | 0x00,
		AR2: ntag424.AccessFree<<4 | writeKeyNo,
		SDM: &ntag424.SDMSettings{
			Options:        ntag424.SDMOptUIDMirror | ntag424.SDMOptCtrMirror,
			MetaRead:       ntag424.AccessFree,
			FileRead:       sdmKeyNo,
			CtrRet:         ntag424.AccessFree,
			UIDOffset:      tpl.UIDOffset,
			CtrOffset:      tpl.CtrOffset,
			MACInputOffset: tpl.MACInputOffset,
			MACOffset:      tpl.MACOffset,
		},
	}
	if err := auth.ChangeFileSettings(fileNo, update); err != nil {
		return fmt.Errorf("change file settings: %w", err)
	}
	slog.Info("SDM configured",
		"file_no", fileNo,
		"sdm_key_no", sdmKeyNo,
		"uid_offset", tpl.UIDOffset,
		"ctr_offset", tpl.CtrOffset,
		"mac_offset", tpl.MACOffset)

	return nil
}

// confirmProvisioning asks for an explicit go-ahead before the NDEF write
// and settings change. Batch callers (no terminal on stdin) must pass -yes.
func confirmProvisioning(uid []byte, url string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("stdin is not a terminal; pass -yes to provision without confirmation")
	}
	fmt.Printf("About to rewrite NDEF and SDM settings on tag %s for %s\n",
		strings.ToUpper(hex.EncodeToString(uid)), url)
	fmt.Print("Proceed? [y/N]: ")
	input, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	input = strings.ToLower(strings.TrimSpace(input))
	if input != "y" && input != "yes" {
		return fmt.Errorf("aborted by user")
	}
	return nil
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
