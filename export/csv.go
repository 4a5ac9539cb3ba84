//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoFlow.
//
// GoFlow is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoFlow is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoFlow. If not, see https://www.gnu.org/licenses/.

package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/aaronlmathis/goflow/run"
)

// WriteCSV writes a header row and one row per task instance. Times are
// RFC 3339 and empty when unset.
func WriteCSV(w io.Writer, snapshots []run.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return &Error{Op: "write_csv", Err: err}
	}

	row := make([]string, len(Columns))
	for _, record := range Rows(snapshots...) {
		for i, col := range Columns {
			row[i] = formatCSV(record[col])
		}
		if err := cw.Write(row); err != nil {
			return &Error{Op: "write_csv", Err: err}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return &Error{Op: "write_csv", Err: err}
	}
	return nil
}

func formatCSV(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
