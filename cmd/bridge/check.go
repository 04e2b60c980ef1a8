package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/scriptbridge/internal/loader"
)

var errCheckFailed = errors.New("some scripts failed to compile")

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check FILE...",
		Short: "Compile scripts without running them",
		Long: `check compiles each file the way run would load it and reports
syntax errors as path:line:column. Bundles are checked entry by entry.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(cmd.OutOrStdout(), args)
		},
	}
}

func check(w io.Writer, paths []string) error {
	failed := 0
	for _, p := range paths {
		for _, err := range checkFile(p) {
			failed++
			fmt.Fprintln(w, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w (%d errors)", errCheckFailed, failed)
	}
	fmt.Fprintf(w, "%d file(s) ok\n", len(paths))
	return nil
}

// checkFile compiles a plain script, or every .js entry of a bundle.
func checkFile(p string) []error {
	data, err := os.ReadFile(p)
	if err != nil {
		return []error{err}
	}
	if !loader.IsArchive(data) {
		if _, err := loader.Compile(p, data); err != nil {
			return []error{err}
		}
		return nil
	}

	a, err := loader.ReadArchive(p, data)
	if err != nil {
		return []error{err}
	}
	var errs []error
	hasMain := false
	for _, name := range a.Names() {
		if !strings.HasSuffix(name, ".js") {
			continue
		}
		if name == loader.MainEntry || strings.HasSuffix(name, "/"+loader.MainEntry) {
			hasMain = true
		}
		if _, err := loader.CompileEntry(a, name); err != nil {
			errs = append(errs, err)
		}
	}
	if !hasMain {
		errs = append(errs, fmt.Errorf("%s: %w: %s", p, loader.ErrEntryNotFound, loader.MainEntry))
	}
	return errs
}
