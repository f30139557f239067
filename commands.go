package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"rawdiag/config"
	"rawdiag/engine"
	"rawdiag/export"
	"rawdiag/pattern"
	"rawdiag/smart"
)

func (a *app) printResult(res engine.Result) {
	fmt.Print(export.RenderResult(res, a.cfg.MaxFaults))
}

func (a *app) diagCommand(mode engine.Mode, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <device>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.run(cmd, engine.Request{Path: args[0], Mode: mode})
			if res.ID != "" {
				a.printResult(res)
			}
			return err
		},
	}
}

func (a *app) eraseCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "erase <device>",
		Short: "Overwrite the whole device with an erase pattern [DESTRUCTIVE]",
		Long:  "Overwrite the whole device with the passes of a named pattern. See 'rawdiag patterns'.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.run(cmd, engine.Request{Path: args[0], Mode: engine.SecureErase, Pattern: name})
			if res.ID != "" {
				a.printResult(res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&name, "pattern", "standard", "erase pattern: "+strings.Join(pattern.Names(), "|"))
	return cmd
}

func (a *app) patternsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List erase patterns and their passes",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Printf("Erase pattern table version %s\n\n", pattern.TableVersion)
			fmt.Printf("  %-10s  %6s  %s\n", "Name", "Passes", "Description")
			for _, n := range pattern.Names() {
				p, err := pattern.Lookup(n)
				if err != nil {
					return err
				}
				fmt.Printf("  %-10s  %6d  %s\n", p.Name, len(p.Passes), p.Description)
				for i, pass := range p.Passes {
					fmt.Printf("  %-10s  %6s  pass %d: %s\n", "", "", i+1, pass)
				}
			}
			return nil
		},
	}
}

func (a *app) bootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "boot <device>",
		Short: "Analyze boot structures and report whether the device is bootable (read-only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.run(cmd, engine.Request{Path: args[0], Mode: engine.BootCheck})
			if res.ID != "" {
				a.printResult(res)
			}
			return err
		},
	}
}

func (a *app) smartCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "smart <device>",
		Short: "Query and normalize SMART telemetry (read-only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.password()
			if err != nil {
				return err
			}
			var rec smart.Record
			if a.emulated != nil {
				rec = smart.Record{Message: "emulated device has no SMART data"}
			} else {
				rec = a.smart.Query(cmd.Context(), args[0], pw)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			fmt.Print(export.RenderSMART(args[0], &rec))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the normalized record as JSON")
	return cmd
}

func (a *app) forensicCommand() *cobra.Command {
	var (
		out    string
		upload bool
		noSave bool
	)
	cmd := &cobra.Command{
		Use:   "forensic <device>",
		Short: "Assemble a read-only forensic report and save it as JSON and text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := a.password()
			if err != nil {
				return err
			}
			res, err := a.run(cmd, engine.Request{
				Path:       args[0],
				Mode:       engine.ForensicAnalysis,
				Credential: engine.Credential{Password: pw},
			})
			if err != nil {
				if res.ID != "" {
					a.printResult(res)
				}
				return err
			}
			report := res.Report
			fmt.Print(export.Render(report))
			if noSave {
				return nil
			}
			if out == "" {
				out = a.cfg.ReportDir
			}
			files, err := export.Save(out, report)
			if err != nil {
				return err
			}
			fmt.Printf("\nSaved %s\n      %s\n", files.JSON, files.Text)
			if !upload {
				return nil
			}
			u, err := export.NewUploader(a.cfg.S3)
			if err != nil {
				return err
			}
			if err := u.EnsureBucket(cmd.Context()); err != nil {
				return err
			}
			key, err := u.UploadReport(cmd.Context(), report)
			if err != nil {
				return err
			}
			textKey := strings.TrimSuffix(key, ".json") + ".txt"
			if err := u.UploadFile(cmd.Context(), textKey, files.Text, "text/plain; charset=utf-8"); err != nil {
				return fmt.Errorf("upload %s: %w", textKey, err)
			}
			fmt.Printf("Uploaded s3://%s/%s\n", u.Bucket(), key)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "report directory (default report_dir from config)")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload the report to the configured S3 bucket")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "print the report without writing files")
	return cmd
}

func (a *app) backupCommand() *cobra.Command {
	var (
		out  string
		full bool
	)
	cmd := &cobra.Command{
		Use:   "backup <device> --out <image>",
		Short: "Copy a device to an image file",
		Long:  "Copy a device to an image file. ISO 9660 media are copied up to the filesystem size unless --full is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(out); err == nil && !a.force {
				return fmt.Errorf("%s exists; pass --force to overwrite it", out)
			}
			res, err := a.run(cmd, engine.Request{Path: args[0], Mode: engine.Backup, Image: out, Full: full})
			if res.ID != "" {
				a.printResult(res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output image file")
	cmd.Flags().BoolVar(&full, "full", false, "copy the whole device even for ISO media")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) burnCommand() *cobra.Command {
	var (
		image  string
		verify bool
	)
	cmd := &cobra.Command{
		Use:   "burn <device> --image <file>",
		Short: "Write an image file to a device [DESTRUCTIVE]",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.run(cmd, engine.Request{Path: args[0], Mode: engine.Burn, Image: image, Verify: verify})
			if res.ID != "" {
				a.printResult(res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "source image file")
	cmd.Flags().BoolVar(&verify, "verify", false, "read the device back and compare it with the image")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func (a *app) historyCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [device]",
		Short: "List recent runs recorded in the history database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory(cmd.Context())
			if err != nil {
				return err
			}
			var dev string
			if len(args) == 1 {
				dev = args[0]
			}
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.History.Limit
			}
			entries, err := store.Recent(cmd.Context(), dev, limit)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			fmt.Printf("  %-14s  %-12s  %-10s  %-18s  %9s  %6s  %s\n", "Ended", "Mode", "State", "Device", "Size", "Faults", "Message")
			for _, e := range entries {
				fmt.Printf("  %-14s  %-12s  %-10s  %-18s  %9s  %6d  %s\n",
					humanize.Time(e.EndedAt), e.Mode, e.State, e.DevicePath,
					humanize.IBytes(uint64(max(e.Capacity, 0))), e.Faults, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cfg.S3.SecretKey != "" {
				cfg.S3.SecretKey = "redacted"
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path := a.cfgPath
			if path == "" {
				path = config.Path()
			}
			_, err := os.Stat(path)
			switch {
			case err == nil && !a.force:
				return fmt.Errorf("%s exists; pass --force to overwrite it", path)
			case err != nil && !errors.Is(err, fs.ErrNotExist):
				return err
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", filepath.Clean(path))
			return nil
		},
	})
	return cmd
}
