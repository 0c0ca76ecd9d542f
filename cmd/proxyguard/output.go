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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/blinklabs-io/proxyguard/database/models"
)

func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(output))
	return nil
}

// fieldTable renders name/value pairs, or v as JSON with --json
func fieldTable(v any, rows [][2]string) error {
	if globalFlags.jsonOutput {
		return printJSON(v)
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	for _, row := range rows {
		table.Append(row[0], row[1])
	}
	return table.Render()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatVersion(v *uint64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatUint(*v, 10)
}

func migrationRows(record *models.MigrationRecord) [][2]string {
	rows := [][2]string{
		{"Migration", strconv.FormatUint(record.ID, 10)},
		{"Proposal", strconv.FormatUint(record.ProposalID, 10)},
		{"Strategy", string(record.Strategy)},
		{"Status", string(record.Status)},
		{"From", record.PrevImplementation},
		{"To", record.NewImplementation},
		{"Progress", fmt.Sprintf("%d/%d", record.ProcessedItems, record.TotalItems)},
		{"Next batch", strconv.FormatUint(uint64(record.NextBatch), 10)},
		{"Started", formatTime(&record.StartedAt)},
		{"Completed", formatTime(record.CompletedAt)},
	}
	if record.FailureReason != "" {
		rows = append(rows, [2]string{"Failure", record.FailureReason})
	}
	return rows
}
