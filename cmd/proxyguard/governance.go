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
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/proxyguard"
	"github.com/blinklabs-io/proxyguard/database/models"
	"github.com/blinklabs-io/proxyguard/governance"
)

func initCommand() *cobra.Command {
	var admins []string
	var threshold uint32
	var delay time.Duration
	var initialImpl string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize governance with an admin set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				err := p.Coordinator().Init(cmd.Context(), governance.InitParams{
					Admins:                admins,
					Threshold:             threshold,
					Delay:                 delay,
					InitialImplementation: initialImpl,
				})
				if err != nil {
					return err
				}
				fmt.Printf(
					"initialized with %d admins, threshold %d, delay %s\n",
					len(admins),
					threshold,
					delay,
				)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&admins, "admin", nil, "admin identity (repeatable)")
	cmd.Flags().Uint32Var(&threshold, "threshold", 1, "approvals required to execute an upgrade")
	cmd.Flags().DurationVar(&delay, "delay", 0, "time between proposal and earliest execution")
	cmd.Flags().StringVar(&initialImpl, "implementation", "", "implementation to activate as version 0")
	return cmd
}

func proposeCommand() *cobra.Command {
	var strategy string
	var batchSize, totalItems uint64
	var migrate bool
	cmd := &cobra.Command{
		Use:   "propose <candidate>",
		Short: "Propose an upgrade to a registered implementation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := identity(cmd)
			if err != nil {
				return err
			}
			meta := governance.ProposalMetadata{
				Strategy:   models.MigrationStrategy(strategy),
				BatchSize:  batchSize,
				TotalItems: totalItems,
			}
			if migrate {
				meta.Flags |= models.ProposalFlagMigrate
			}
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				id, err := p.Coordinator().ProposeUpgrade(cmd.Context(), caller, args[0], meta)
				if err != nil {
					return err
				}
				fmt.Printf("proposal %d created\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "migration strategy: direct, incremental or lazy")
	cmd.Flags().Uint64Var(&batchSize, "batch-size", 0, "items per incremental batch")
	cmd.Flags().Uint64Var(&totalItems, "total-items", 0, "items to migrate, counted from state when zero")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "request a migration even when not required")
	return cmd
}

// decisionCommand builds approve and reject
func decisionCommand(
	use string,
	short string,
	fn func(*governance.Coordinator, *cobra.Command, uint64, string) error,
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <proposal-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			caller, err := identity(cmd)
			if err != nil {
				return err
			}
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				if err := fn(p.Coordinator(), cmd, id, caller); err != nil {
					return err
				}
				view, err := p.Coordinator().GetProposal(cmd.Context(), id)
				if err != nil {
					return err
				}
				return fieldTable(view, proposalRows(view))
			})
		},
	}
}

func approveCommand() *cobra.Command {
	return decisionCommand(
		"approve",
		"Approve a pending proposal",
		func(c *governance.Coordinator, cmd *cobra.Command, id uint64, caller string) error {
			return c.ApproveUpgrade(cmd.Context(), id, caller)
		},
	)
}

func rejectCommand() *cobra.Command {
	return decisionCommand(
		"reject",
		"Reject an open proposal",
		func(c *governance.Coordinator, cmd *cobra.Command, id uint64, caller string) error {
			return c.RejectUpgrade(cmd.Context(), id, caller)
		},
	)
}

func executeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "execute <proposal-id>",
		Short: "Execute an approved proposal once its delay has elapsed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				result, err := p.Coordinator().ExecuteUpgrade(cmd.Context(), id)
				if err != nil {
					return err
				}
				rows := [][2]string{
					{"Previous", result.Previous},
					{"Current", result.Record.Implementation},
					{"Version", strconv.FormatUint(result.Record.Version, 10)},
				}
				if result.Impact != nil {
					rows = append(
						rows,
						[2]string{"Risk", result.Impact.Risk.String()},
						[2]string{"Estimated gas", strconv.FormatUint(result.Impact.EstimatedGas, 10)},
					)
				}
				if result.Migration != nil {
					rows = append(rows, migrationRows(result.Migration)...)
				}
				return fieldTable(result, rows)
			})
		},
	}
}

func rollbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Revert the active implementation to its predecessor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			caller, err := identity(cmd)
			if err != nil {
				return err
			}
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				record, err := p.Coordinator().Rollback(cmd.Context(), caller)
				if err != nil {
					return err
				}
				return fieldTable(record, [][2]string{
					{"Current", record.Implementation},
					{"Version", strconv.FormatUint(record.Version, 10)},
					{"Restored from", formatVersion(record.RestoredFrom)},
				})
			})
		},
	}
}

func proposalRows(view *governance.ProposalView) [][2]string {
	return [][2]string{
		{"Proposal", strconv.FormatUint(view.ID, 10)},
		{"Candidate", view.Candidate},
		{"Proposer", view.Proposer},
		{"Status", string(view.Status)},
		{"Approvals", fmt.Sprintf("%d %v", len(view.Approvals), view.Approvals)},
		{"Strategy", string(view.Strategy)},
		{"Executable at", formatTime(&view.ExecutableAt)},
		{"Expires at", formatTime(view.ExpiresAt)},
		{"Reason", view.Reason},
	}
}
