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
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/blinklabs-io/proxyguard"
	"github.com/blinklabs-io/proxyguard/implementation"
)

func analyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <candidate>",
		Short: "Score replacing the active implementation without changing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				impact, err := p.Coordinator().AnalyzeUpgradeSafety(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				rows := [][2]string{
					{"Current", impact.Current},
					{"Candidate", impact.Candidate},
					{"Risk", impact.Risk.String()},
					{"Requires migration", strconv.FormatBool(impact.RequiresMigration)},
					{"Breaking changes", strconv.FormatUint(uint64(impact.BreakingChanges), 10)},
					{"Affected keys", fmt.Sprintf("%d/%d", len(impact.AffectedKeys), impact.TotalFields)},
					{"Estimated gas", strconv.FormatUint(impact.EstimatedGas, 10)},
					{"Estimated seconds", strconv.FormatUint(impact.EstimatedSeconds, 10)},
				}
				if impact.Compatibility != nil && len(impact.Compatibility.DeprecatedFeatures) > 0 {
					rows = append(rows, [2]string{
						"Deprecated",
						strings.Join(impact.Compatibility.DeprecatedFeatures, ", "),
					})
				}
				return fieldTable(impact, rows)
			})
		},
	}
}

func healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the upgrade health check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				health, err := p.Coordinator().GetHealthStatus(cmd.Context())
				if err != nil {
					return err
				}
				return fieldTable(health, [][2]string{
					{"Status", health.Status.String()},
					{"Recommendation", string(health.Recommendation)},
					{"Forecast", fmt.Sprintf("%d%%", health.Forecast)},
					{"Failure streak", strconv.Itoa(health.FailureStreak)},
					{"Storage latency", health.Latency.String()},
					{"Reasons", strings.Join(health.Reasons, "; ")},
				})
			})
		},
	}
}

func analyticsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Show aggregated upgrade metrics and trends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				summary, err := p.Coordinator().GetUpgradeAnalytics(cmd.Context())
				if err != nil {
					return err
				}
				trends, err := p.Coordinator().GetTrends(cmd.Context())
				if err != nil {
					return err
				}
				return fieldTable(
					map[string]any{"analytics": summary, "trends": trends},
					[][2]string{
						{"Attempts", strconv.FormatUint(summary.Total, 10)},
						{"Succeeded", strconv.FormatUint(summary.Succeeded, 10)},
						{"Failed", strconv.FormatUint(summary.Failed, 10)},
						{"Rolled back", strconv.FormatUint(summary.RolledBack, 10)},
						{"Success rate", fmt.Sprintf("%.1f%%", summary.SuccessRate)},
						{"Average duration", summary.AverageDuration.String()},
						{"Average gas", strconv.FormatUint(summary.AverageGas, 10)},
						{"Last upgrade", formatTime(summary.LastUpgrade)},
						{"Success trend", string(trends.SuccessTrend)},
						{"Duration trend", string(trends.DurationTrend)},
						{"Gas trend", string(trends.GasTrend)},
						{"Forecast", fmt.Sprintf("%d%%", trends.Forecast)},
					},
				)
			})
		},
	}
}

func historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List the implementation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				records, err := p.Coordinator().GetHistory(cmd.Context())
				if err != nil {
					return err
				}
				if globalFlags.jsonOutput {
					return printJSON(records)
				}
				if len(records) == 0 {
					fmt.Println("No implementation activated")
					return nil
				}
				table := tablewriter.NewWriter(os.Stdout)
				table.Header("Version", "Implementation", "Kind", "Predecessor", "Proposal", "Activated")
				for _, record := range records {
					table.Append(
						strconv.FormatUint(record.Version, 10),
						record.Implementation,
						string(record.Kind),
						formatVersion(record.Predecessor),
						formatVersion(record.ProposalID),
						formatTime(&record.ActivatedAt),
					)
				}
				return table.Render()
			})
		},
	}
}

func proposalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "proposal <proposal-id>",
		Short: "Show a proposal and its approvals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				view, err := p.Coordinator().GetProposal(cmd.Context(), id)
				if err != nil {
					return err
				}
				return fieldTable(view, proposalRows(view))
			})
		},
	}
}

func auditCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List refused and failed governance operations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				entries, err := p.Coordinator().ListAudit(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if globalFlags.jsonOutput {
					return printJSON(entries)
				}
				if len(entries) == 0 {
					fmt.Println("No audit entries")
					return nil
				}
				table := tablewriter.NewWriter(os.Stdout)
				table.Header("Recorded", "Operation", "Identity", "Proposal", "Code")
				for _, entry := range entries {
					table.Append(
						formatTime(&entry.RecordedAt),
						entry.Operation,
						entry.Identity,
						strconv.FormatUint(entry.ProposalID, 10),
						entry.Code,
					)
				}
				return table.Render()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to show, 0 for all")
	return cmd
}

func forwardCommand() *cobra.Command {
	var items []uint
	cmd := &cobra.Command{
		Use:   "forward <function> [args-hex]",
		Short: "Call a function of the active implementation",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}
			call := implementation.Call{
				Function: args[0],
				Caller:   cfg.Identity,
			}
			for _, item := range items {
				call.Items = append(call.Items, uint64(item))
			}
			if len(args) > 1 {
				callArgs, err := hex.DecodeString(args[1])
				if err != nil {
					return fmt.Errorf("invalid args: %w", err)
				}
				call.Args = callArgs
			}
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				result, err := p.Coordinator().Forward(cmd.Context(), call)
				if err != nil {
					return err
				}
				if globalFlags.jsonOutput {
					return printJSON(result)
				}
				fmt.Printf("%+v\n", result)
				return nil
			})
		},
	}
	cmd.Flags().UintSliceVar(&items, "item", nil, "lazy migration item touched by the call (repeatable)")
	return cmd
}
