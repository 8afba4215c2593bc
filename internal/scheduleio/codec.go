// Package scheduleio reads and writes the truck schedule file: the
// only artefact that flows between refinement iterations (spec §4.5,
// §9 "Iteration coupling"). The format is fixed by spec §6.
package scheduleio

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/parcelnet/servicenet/internal/modelbuild"
)

// Header carries the five summary fields every schedule file opens
// with.
type Header struct {
	Objective   float64
	Distance    float64
	Penalty     float64
	Unproduced  int
	Undelivered int
}

// InventoryRecord is an "I" record: an informational inventory
// snapshot, never required for warm-starting the next level.
type InventoryRecord struct {
	Location, Tick, Target, Shift int
	Value                         float64
}

// TruckUse is a "T" record: one truck used at a given wall-clock time.
type TruckUse struct {
	Source, Target int
	Time           float64
}

// FlowRecord is an "S" record: one flow component of the schedule.
type FlowRecord struct {
	Source, Dest, Target, Shift int
	Time                        float64
	Trolleys                    float64
}

// Schedule is the fully decoded truck schedule file.
type Schedule struct {
	Header      Header
	Inventory   []InventoryRecord
	TruckUses   []TruckUse
	Flows       []FlowRecord
	TruckCounts []modelbuild.TruckCount // "C" records, the aggregate used to warm-start x.
}

// Write encodes s in the format spec §6 fixes.
func Write(w io.Writer, s Schedule) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "OBJ %s\n", formatFloat(s.Header.Objective))
	fmt.Fprintf(bw, "DIST %s\n", formatFloat(s.Header.Distance))
	fmt.Fprintf(bw, "PEN %s\n", formatFloat(s.Header.Penalty))
	fmt.Fprintf(bw, "NPRO %d\n", s.Header.Unproduced)
	fmt.Fprintf(bw, "NDEL %d\n", s.Header.Undelivered)
	fmt.Fprintln(bw)

	for _, r := range s.Inventory {
		fmt.Fprintf(bw, "I %d %d %d %d %s\n", r.Location, r.Tick, r.Target, r.Shift, formatFloat(r.Value))
	}
	for _, u := range s.TruckUses {
		fmt.Fprintf(bw, "T %d %d %s\n", u.Source, u.Target, formatFloat(u.Time))
	}
	for _, f := range s.Flows {
		fmt.Fprintf(bw, "S %d %d %d %d %s %s\n", f.Source, f.Dest, f.Target, f.Shift, formatFloat(f.Time), formatFloat(f.Trolleys))
	}
	for _, c := range s.TruckCounts {
		fmt.Fprintf(bw, "C %d %d %s %d\n", c.Source, c.Target, formatFloat(c.Time), c.Count)
	}

	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Read decodes a truck schedule file. A missing header field is
// treated as a malformed-input error per spec §7 ("missing required
// field → terminate"); an unrecognised record tag is likewise fatal,
// since this format (unlike the network file) has no optional
// extension records beyond the ones listed here.
func Read(r io.Reader) (Schedule, error) {
	var s Schedule
	var haveObj, haveDist, havePen, haveNpro, haveNdel bool

	scanner := bufio.NewScanner(r)
	inHeader := true

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if inHeader {
			if line == "" {
				inHeader = false
				continue
			}
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return Schedule{}, fmt.Errorf("scheduleio: malformed header line %q", line)
			}
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil && fields[0] != "NPRO" && fields[0] != "NDEL" {
				return Schedule{}, fmt.Errorf("scheduleio: parsing header field %q: %w", fields[0], err)
			}
			switch fields[0] {
			case "OBJ":
				s.Header.Objective, haveObj = v, true
			case "DIST":
				s.Header.Distance, haveDist = v, true
			case "PEN":
				s.Header.Penalty, havePen = v, true
			case "NPRO":
				n, err := strconv.Atoi(fields[1])
				if err != nil {
					return Schedule{}, fmt.Errorf("scheduleio: parsing NPRO: %w", err)
				}
				s.Header.Unproduced, haveNpro = n, true
			case "NDEL":
				n, err := strconv.Atoi(fields[1])
				if err != nil {
					return Schedule{}, fmt.Errorf("scheduleio: parsing NDEL: %w", err)
				}
				s.Header.Undelivered, haveNdel = n, true
			default:
				return Schedule{}, fmt.Errorf("scheduleio: unknown header field %q", fields[0])
			}
			continue
		}

		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "I":
			r, err := parseInventory(fields)
			if err != nil {
				return Schedule{}, err
			}
			s.Inventory = append(s.Inventory, r)
		case "T":
			u, err := parseTruckUse(fields)
			if err != nil {
				return Schedule{}, err
			}
			s.TruckUses = append(s.TruckUses, u)
		case "S":
			f, err := parseFlow(fields)
			if err != nil {
				return Schedule{}, err
			}
			s.Flows = append(s.Flows, f)
		case "C":
			c, err := parseTruckCount(fields)
			if err != nil {
				return Schedule{}, err
			}
			s.TruckCounts = append(s.TruckCounts, c)
		default:
			return Schedule{}, fmt.Errorf("scheduleio: unknown record tag %q", fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return Schedule{}, fmt.Errorf("scheduleio: reading: %w", err)
	}
	if !haveObj || !haveDist || !havePen || !haveNpro || !haveNdel {
		return Schedule{}, fmt.Errorf("scheduleio: truck schedule file is missing a required header field")
	}
	return s, nil
}

func parseInventory(fields []string) (InventoryRecord, error) {
	if len(fields) != 6 {
		return InventoryRecord{}, fmt.Errorf("scheduleio: malformed I record: %v", fields)
	}
	loc, err1 := strconv.Atoi(fields[1])
	tick, err2 := strconv.Atoi(fields[2])
	target, err3 := strconv.Atoi(fields[3])
	shift, err4 := strconv.Atoi(fields[4])
	value, err5 := strconv.ParseFloat(fields[5], 64)
	if err := firstErr(err1, err2, err3, err4, err5); err != nil {
		return InventoryRecord{}, fmt.Errorf("scheduleio: malformed I record: %w", err)
	}
	return InventoryRecord{Location: loc, Tick: tick, Target: target, Shift: shift, Value: value}, nil
}

func parseTruckUse(fields []string) (TruckUse, error) {
	if len(fields) != 4 {
		return TruckUse{}, fmt.Errorf("scheduleio: malformed T record: %v", fields)
	}
	src, err1 := strconv.Atoi(fields[1])
	tgt, err2 := strconv.Atoi(fields[2])
	tm, err3 := strconv.ParseFloat(fields[3], 64)
	if err := firstErr(err1, err2, err3); err != nil {
		return TruckUse{}, fmt.Errorf("scheduleio: malformed T record: %w", err)
	}
	return TruckUse{Source: src, Target: tgt, Time: tm}, nil
}

func parseFlow(fields []string) (FlowRecord, error) {
	if len(fields) != 7 {
		return FlowRecord{}, fmt.Errorf("scheduleio: malformed S record: %v", fields)
	}
	src, err1 := strconv.Atoi(fields[1])
	dst, err2 := strconv.Atoi(fields[2])
	target, err3 := strconv.Atoi(fields[3])
	shift, err4 := strconv.Atoi(fields[4])
	tm, err5 := strconv.ParseFloat(fields[5], 64)
	trolleys, err6 := strconv.ParseFloat(fields[6], 64)
	if err := firstErr(err1, err2, err3, err4, err5, err6); err != nil {
		return FlowRecord{}, fmt.Errorf("scheduleio: malformed S record: %w", err)
	}
	return FlowRecord{Source: src, Dest: dst, Target: target, Shift: shift, Time: tm, Trolleys: trolleys}, nil
}

func parseTruckCount(fields []string) (modelbuild.TruckCount, error) {
	if len(fields) != 5 {
		return modelbuild.TruckCount{}, fmt.Errorf("scheduleio: malformed C record: %v", fields)
	}
	src, err1 := strconv.Atoi(fields[1])
	tgt, err2 := strconv.Atoi(fields[2])
	tm, err3 := strconv.ParseFloat(fields[3], 64)
	count, err4 := strconv.Atoi(fields[4])
	if err := firstErr(err1, err2, err3, err4); err != nil {
		return modelbuild.TruckCount{}, fmt.Errorf("scheduleio: malformed C record: %w", err)
	}
	return modelbuild.TruckCount{Source: src, Target: tgt, Time: tm, Count: count}, nil
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
