package parcels

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

const reportTimestampLayout = "2006-01-02 15:04"

var reportHeader = []string{
	"No", "Arrived", "Sender", "Recipient", "Room", "Item", "Condition", "Status", "Collected", "Note",
}

// WriteReportCSV renders the report rows as CSV with timestamps in the given location.
func WriteReportCSV(w io.Writer, report Report, location *time.Location) error {
	if location == nil {
		location = time.UTC
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(reportHeader); err != nil {
		return err
	}
	for index, pkg := range report.Packages {
		collected := ""
		if pkg.CollectedAt != nil {
			collected = pkg.CollectedAt.In(location).Format(reportTimestampLayout)
		}
		row := []string{
			strconv.Itoa(index + 1),
			pkg.ArrivedAt.In(location).Format(reportTimestampLayout),
			pkg.SenderName,
			pkg.RecipientName,
			pkg.RoomName(),
			pkg.ItemDescription,
			string(pkg.Condition),
			string(pkg.Status),
			collected,
			pkg.Note,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
