package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/hugh/scanhub/internal/scans"
	"github.com/olekukonko/tablewriter"
)

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func renderScans(w io.Writer, records []scans.Record) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Type", "Target", "Status", "Error", "Created", "Completed")

	for i := range records {
		rec := &records[i]
		errKind := string(rec.ErrorKind)
		if errKind == "" {
			errKind = "-"
		}
		if err := table.Append([]string{
			rec.ID.String(),
			string(rec.ScanType),
			rec.Target,
			string(rec.Status),
			errKind,
			rec.CreatedAt.UTC().Format(timeLayout),
			formatTime(rec.CompletedAt),
		}); err != nil {
			return err
		}
	}

	return table.Render()
}

func renderScan(w io.Writer, rec *scans.Record) error {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")

	rows := [][]string{
		{"id", rec.ID.String()},
		{"owner", rec.OwnerID.String()},
		{"target", rec.Target},
		{"type", string(rec.ScanType)},
		{"status", string(rec.Status)},
		{"created", rec.CreatedAt.UTC().Format(timeLayout)},
		{"started", formatTime(rec.StartedAt)},
		{"completed", formatTime(rec.CompletedAt)},
	}
	if rec.Options.Ports != "" {
		rows = append(rows, []string{"ports", rec.Options.Ports})
	}
	if rec.Status == scans.StatusFailed {
		rows = append(rows,
			[]string{"error kind", string(rec.ErrorKind)},
			[]string{"error", rec.ErrorMessage},
		)
	}
	if len(rec.Results) > 0 {
		rows = append(rows, []string{"results", fmt.Sprintf("%d bytes", len(rec.Results))})
	}

	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

type queueRow struct {
	Name      string
	Pending   int
	Active    int
	Scheduled int
	Archived  int
	Processed int
	Failed    int
	Paused    bool
}

func renderQueues(w io.Writer, rows []queueRow) error {
	table := tablewriter.NewWriter(w)
	table.Header("Queue", "Pending", "Active", "Scheduled", "Archived", "Processed", "Failed", "Paused")
	for _, r := range rows {
		if err := table.Append([]string{
			r.Name,
			strconv.Itoa(r.Pending),
			strconv.Itoa(r.Active),
			strconv.Itoa(r.Scheduled),
			strconv.Itoa(r.Archived),
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Failed),
			strconv.FormatBool(r.Paused),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}
