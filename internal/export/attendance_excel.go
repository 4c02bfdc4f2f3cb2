package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/GideonEse/fete/internal/member"
	"github.com/GideonEse/fete/internal/session"
)

const timeLayout = "2006-01-02 15:04:05"

// BuildAttendanceWorkbook renders an archived session as a workbook: one
// row per registered non-admin member, joined against the session's
// attendees by member id. Absent members keep empty time fields.
func BuildAttendanceWorkbook(s session.ArchivedSession, members []member.Member) (*excelize.File, error) {
	header := []string{"Name", "Matric Number", "Role", "Present", "Arrival", "Status", "Exit"}

	byMember := make(map[string]session.ArchivedAttendee, len(s.Attendees))
	for _, a := range s.Attendees {
		byMember[a.MemberID] = a
	}

	var rows [][]string
	for _, m := range members {
		if m.Role == member.RoleAdmin {
			continue
		}
		row := []string{m.Name, m.MatricNumber, string(m.Role), "Absent", "", "", ""}
		if a, ok := byMember[m.ID]; ok {
			row[3] = "Present"
			row[4] = a.ArrivalTime.Format(timeLayout)
			row[5] = string(a.Status)
			if a.ExitTime != nil {
				row[6] = a.ExitTime.Format(timeLayout)
			}
		}
		rows = append(rows, row)
	}

	f := excelize.NewFile()
	sheet := "Attendance"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	bold, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	for col, h := range header {
		cell := fmt.Sprintf("%s1", colName(col+1))
		if err := f.SetCellStr(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("set cell %s: %w", cell, err)
		}
	}
	end := colName(len(header)) + "1"
	_ = f.SetCellStyle(sheet, "A1", end, bold)
	_ = f.AutoFilter(sheet, "A1:"+end, nil)

	for r, row := range rows {
		for c, val := range row {
			cell := fmt.Sprintf("%s%d", colName(c+1), r+2)
			if err := f.SetCellStr(sheet, cell, val); err != nil {
				return nil, fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
	}

	// Width heuristic from header and first rows.
	for c := 1; c <= len(header); c++ {
		maxim := len(header[c-1])
		for r := 0; r < minim(50, len(rows)); r++ {
			if l := len(rows[r][c-1]); l > maxim {
				maxim = l
			}
		}
		w := float64(maxim) * 0.9
		if w < 12 {
			w = 12
		}
		if w > 40 {
			w = 40
		}
		_ = f.SetColWidth(sheet, colName(c), colName(c), w)
	}

	return f, nil
}

// helpers
func colName(n int) string {
	s := ""
	for n > 0 {
		n--
		s = string(rune('A'+(n%26))) + s
		n /= 26
	}
	return s
}

func minim(a, b int) int {
	if a < b {
		return a
	}
	return b
}
