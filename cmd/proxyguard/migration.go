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

	"github.com/spf13/cobra"

	"github.com/blinklabs-io/proxyguard"
	"github.com/blinklabs-io/proxyguard/database/models"
)

func migrationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migration",
		Short: "Drive and recover data migrations",
	}
	cmd.AddCommand(
		migrationContinueCommand(),
		migrationFailCommand(),
		migrationRecoverCommand(),
		migrationResumeCommand(),
		migrationStatusCommand(),
	)
	return cmd
}

func migrationContinueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "continue <migration-id>",
		Short: "Process the next batch of an incremental migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				record, err := p.Coordinator().ContinueMigration(cmd.Context(), id)
				if err != nil {
					return err
				}
				return fieldTable(record, migrationRows(record))
			})
		},
	}
}

func migrationFailCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <migration-id>",
		Short: "Record an interrupted migration as failed",
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
				coord := p.Coordinator()
				if err := coord.MarkMigrationFailed(cmd.Context(), id, reason, caller); err != nil {
					return err
				}
				view, err := coord.GetMigration(cmd.Context(), id)
				if err != nil {
					return err
				}
				return fieldTable(view.Record, migrationRows(&view.Record))
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "interrupted", "failure reason to record")
	return cmd
}

func migrationRecoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recover <migration-id>",
		Short: "Recover a failed migration from its checkpoints or snapshot",
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
				result, err := p.Coordinator().RecoverMigration(cmd.Context(), id, caller)
				if err != nil {
					return err
				}
				rows := append(
					[][2]string{{"Outcome", string(result.Outcome)}},
					migrationRows(result.Migration)...,
				)
				if result.Checkpoint != nil {
					rows = append(rows, [2]string{
						"Resumed after batch",
						strconv.FormatUint(uint64(result.Checkpoint.Batch), 10),
					})
				}
				if result.Snapshot != nil {
					rows = append(rows, [2]string{
						"Restored snapshot",
						strconv.FormatUint(result.Snapshot.ID, 10),
					})
				}
				return fieldTable(result, rows)
			})
		},
	}
}

func migrationResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <migration-id> <batch>",
		Short: "Resume a migration after a recorded checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			batch, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid batch %q: %w", args[1], err)
			}
			caller, err := identity(cmd)
			if err != nil {
				return err
			}
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				record, err := p.Coordinator().ResumeFromCheckpoint(
					cmd.Context(),
					id,
					uint32(batch),
					caller,
				)
				if err != nil {
					return err
				}
				return fieldTable(record, migrationRows(record))
			})
		},
	}
}

func migrationStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <migration-id>",
		Short: "Show a migration and its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withProxy(cmd, func(p *proxyguard.Proxy) error {
				view, err := p.Coordinator().GetMigration(cmd.Context(), id)
				if err != nil {
					return err
				}
				rows := append(
					migrationRows(&view.Record),
					[2]string{"Checkpoints", strconv.Itoa(len(view.Checkpoints))},
					[2]string{"Pending lazy items", strconv.Itoa(view.PendingItems)},
				)
				if view.Record.Status == models.MigrationStatusCompleted {
					complete := "yes"
					if err := p.Coordinator().ValidateMigrationComplete(cmd.Context(), id); err != nil {
						complete = err.Error()
					}
					rows = append(rows, [2]string{"Verified", complete})
				}
				return fieldTable(view, rows)
			})
		},
	}
}
