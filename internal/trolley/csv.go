package trolley

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/parcelnet/servicenet/internal/network"
)

// ReadStream parses the trolley CSV stream of spec §6: a header row,
// then rows of `source_name, target_name, ..., shift, release_time`.
// Rows that reference an unknown location name are fatal (a missing
// required field, spec §7); rows with an unparsable shift or release
// are collected and returned together so a caller can see every bad
// row in one pass instead of stopping at the first one.
func ReadStream(net *network.Network, r io.Reader) ([]Trolley, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("trolley: CSV stream has no header row")
		}
		return nil, fmt.Errorf("trolley: reading CSV header: %w", err)
	}

	var trolleys []Trolley
	var parseErr error
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("trolley: reading CSV row %d: %w", row, err)
		}
		row++

		if len(record) == 1 {
			record = strings.Split(record[0], ";")
		}
		if len(record) < 4 {
			return nil, fmt.Errorf("trolley: row %d has too few fields: %q", row, record)
		}

		sourceName, targetName := record[0], record[1]
		shiftRaw, releaseRaw := record[len(record)-2], record[len(record)-1]

		source := net.Find(sourceName)
		target := net.Find(targetName)
		if source < 0 {
			return nil, fmt.Errorf("trolley: row %d references unknown source location %q", row, sourceName)
		}
		if target < 0 {
			return nil, fmt.Errorf("trolley: row %d references unknown target location %q", row, targetName)
		}

		shift, errShift := strconv.Atoi(shiftRaw)
		release, errRelease := strconv.ParseFloat(releaseRaw, 64)
		if errShift != nil {
			parseErr = multierr.Append(parseErr, fmt.Errorf("trolley: row %d has bad shift %q: %w", row, shiftRaw, errShift))
			continue
		}
		if errRelease != nil {
			parseErr = multierr.Append(parseErr, fmt.Errorf("trolley: row %d has bad release time %q: %w", row, releaseRaw, errRelease))
			continue
		}

		trolleys = append(trolleys, Trolley{
			Source:  source,
			Release: release,
			Commodity: network.Commodity{
				Target: target,
				Shift:  shift,
			},
		})
	}

	if parseErr != nil {
		return nil, parseErr
	}
	return trolleys, nil
}
