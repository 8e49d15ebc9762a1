// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/blinklabs-io/faucet"
	"github.com/blinklabs-io/faucet/admin"
	"github.com/blinklabs-io/faucet/internal/node"
	"github.com/spf13/cobra"
)

// openFaucet builds the faucet from the command config without starting the
// API. The caller must Stop it.
func openFaucet(cmd *cobra.Command) (*faucet.Faucet, *slog.Logger) {
	cfg := configFromCommand(cmd)
	logger := commonRun()
	f, err := node.NewFaucet(cfg, logger, nil)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	if err := f.Open(); err != nil {
		slog.Error(err.Error())
		_ = f.Stop()
		os.Exit(1)
	}
	return f, logger
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type adminOp struct {
	use   string
	short string
	run   func(ctx context.Context, ops *admin.Operations, username string) (any, error)
}

var adminOps = []adminOp{
	{
		use:   "approve",
		short: "Whitelist a user and drop their access requests",
		run: func(ctx context.Context, ops *admin.Operations, u string) (any, error) {
			return ops.Approve(ctx, u)
		},
	},
	{
		use:   "reject",
		short: "Drop a user's access requests and record the rejection",
		run: func(ctx context.Context, ops *admin.Operations, u string) (any, error) {
			return ops.Reject(ctx, u)
		},
	},
	{
		use:   "remove-user",
		short: "Remove a user from every faucet record",
		run: func(ctx context.Context, ops *admin.Operations, u string) (any, error) {
			return ops.ForceRemove(ctx, u)
		},
	},
	{
		use:   "add-upgrade",
		short: "Grant upgraded status",
		run: func(ctx context.Context, ops *admin.Operations, u string) (any, error) {
			return ops.AddUpgrade(ctx, u)
		},
	},
	{
		use:   "remove-upgrade",
		short: "Revoke upgraded status",
		run: func(ctx context.Context, ops *admin.Operations, u string) (any, error) {
			return ops.RemoveUpgrade(ctx, u)
		},
	},
	{
		use:   "approve-vouch",
		short: "Vouch for a user as the admin",
		run: func(ctx context.Context, ops *admin.Operations, u string) (any, error) {
			return ops.ApproveVouch(ctx, u)
		},
	},
	{
		use:   "reject-vouch",
		short: "Drop a user's vouch request",
		run: func(ctx context.Context, ops *admin.Operations, u string) (any, error) {
			return ops.RejectVouch(ctx, u)
		},
	},
	{
		use:   "unvouch",
		short: "Remove a user's vouch",
		run: func(ctx context.Context, ops *admin.Operations, u string) (any, error) {
			return nil, ops.Unvouch(ctx, u)
		},
	},
}

func adminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Run admin operations directly against the store",
	}
	for _, op := range adminOps {
		cmd.AddCommand(&cobra.Command{
			Use:   op.use + " <username>",
			Short: op.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				f, _ := openFaucet(cmd)
				res, err := op.run(cmd.Context(), f.Admin(), args[0])
				if res != nil {
					err = errors.Join(err, printJSON(res))
				}
				return errors.Join(err, f.Stop())
			},
		})
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "dedupe",
		Short: "Collapse duplicate access requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, _ := openFaucet(cmd)
			res, err := f.Admin().Dedupe(cmd.Context())
			if err == nil {
				err = printJSON(res)
			}
			return errors.Join(err, f.Stop())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "overview",
		Short: "Print every admin-managed list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, _ := openFaucet(cmd)
			ov, err := f.Admin().Overview(cmd.Context())
			if err == nil {
				err = printJSON(ov)
			}
			return errors.Join(err, f.Stop())
		},
	})
	return cmd
}

func membershipCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "membership",
		Short: "Ecosystem membership dataset",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Fetch the ecosystem manifest and update the cached dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, logger := openFaucet(cmd)
			stats, err := f.Membership().Refresh(cmd.Context())
			if err == nil {
				logger.Info(
					"membership refreshed",
					"usernames", stats.Usernames,
					"repos", stats.Repos,
				)
			}
			return errors.Join(err, f.Stop())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check <username>",
		Short: "Report the eligibility decision for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, _ := openFaucet(cmd)
			decision, err := f.Eligibility().Evaluate(cmd.Context(), args[0])
			if err == nil {
				err = printJSON(decision)
			}
			if err != nil {
				err = fmt.Errorf("check %s: %w", args[0], err)
			}
			return errors.Join(err, f.Stop())
		},
	})
	return cmd
}
