// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lsqfit prints the non-negative and the unconstrained least-squares
// solution of a built-in 6 × 2 linear system.
package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/curioloop/lsqfit/fit"
	"github.com/spf13/cobra"
)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	logger := slog.New(slog.NewTextHandler(stderr, nil))
	return &cobra.Command{
		Use:           "lsqfit",
		Short:         "Fit a fixed linear system with and without a non-negativity constraint",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fit.Run(stdout, logger); err != nil {
				logger.Error("fit failed", "error", err)
				return err
			}
			return nil
		},
	}
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
