package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/noah-isme/thesis-registration-api/internal/dto"
	"github.com/noah-isme/thesis-registration-api/internal/models"
	"github.com/noah-isme/thesis-registration-api/internal/roster"
)

func rosterCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "roster", Short: "Work with roster spreadsheets"}
	cmd.AddCommand(rosterInspectCmd())
	return cmd
}

func rosterInspectCmd() *cobra.Command {
	var sample, scanRows int
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Parse a roster and print its header detection and first records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := roster.ParseFile(args[0], roster.Options{HeaderScanRows: scanRows})
			if err != nil {
				return err
			}
			preview := buildPreview(result, sample)
			if jsonOutput() {
				return printJSON(preview)
			}
			renderPreview(os.Stdout, preview)
			return nil
		},
	}
	cmd.Flags().IntVar(&sample, "sample", 10, "number of records to show")
	cmd.Flags().IntVar(&scanRows, "header-scan-rows", roster.DefaultHeaderScanRows, "rows searched for the header")
	return cmd
}

// buildPreview summarises a parse result with the first records by student code.
func buildPreview(result *roster.Result, sample int) dto.RosterPreview {
	preview := dto.RosterPreview{
		HeaderRow:  result.HeaderRow,
		HasCredits: result.HasCredits,
		DataRows:   result.DataRows,
		Records:    len(result.Records),
		Skipped:    result.Skipped,
		Duplicates: result.Duplicates,
	}
	codes := make([]string, 0, len(result.Records))
	for code := range result.Records {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	if sample >= 0 && len(codes) > sample {
		codes = codes[:sample]
	}
	preview.Sample = make([]models.RosterRecord, 0, len(codes))
	for _, code := range codes {
		preview.Sample = append(preview.Sample, result.Records[code])
	}
	return preview
}

func renderPreview(w io.Writer, preview dto.RosterPreview) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.AppendHeader(table.Row{"Header row", "Credits column", "Data rows", "Records", "Skipped", "Duplicates"})
	summary.AppendRow(table.Row{preview.HeaderRow, preview.HasCredits, preview.DataRows, preview.Records, preview.Skipped, preview.Duplicates})
	summary.Render()

	if len(preview.Sample) == 0 {
		return
	}
	records := table.NewWriter()
	records.SetOutputMirror(w)
	records.AppendHeader(table.Row{"Student code", "Full name", "Class", "Credits"})
	for _, rec := range preview.Sample {
		credits := "-"
		if rec.Credits != nil {
			credits = fmt.Sprintf("%d", *rec.Credits)
		}
		records.AppendRow(table.Row{rec.StudentCode, rec.FullName, rec.StudentClass, credits})
	}
	records.Render()
}
