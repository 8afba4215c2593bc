package network

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

// Write serialises the network to the line-oriented network-file
// format (tags U, i, o, l, d, c), the inverse of Read.
func (n *Network) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "U %d\n", n.truckCap)
	fmt.Fprintf(bw, "i %v\n", n.unloadTime)
	fmt.Fprintf(bw, "o %v\n", n.loadingTime)
	bw.WriteByte('\n')
	for _, loc := range n.Locations() {
		l := n.locations[loc]
		fmt.Fprintf(bw, "l %s %.4f %.4f %d %d %d %d\n",
			l.Name, l.X, l.Y, l.SourceCapacity, l.TargetCapacity, l.CrossCapacity, l.NumDocks)
	}
	bw.WriteByte('\n')
	for _, s := range n.Locations() {
		for _, t := range n.Locations() {
			if s == t {
				continue
			}
			fmt.Fprintf(bw, "d %d %d %.3f\n", s, t, n.Distance(s, t))
		}
	}
	bw.WriteByte('\n')
	for _, c := range n.Commodities() {
		fmt.Fprintf(bw, "c %d %d %v\n", c.Target, c.Shift, n.Deadline(c))
	}
	return bw.Flush()
}

// Read parses the line-oriented network-file format into a fresh
// Network. Unknown tags are a fatal error (spec §7: "unknown record
// tag ... log and skip", but a tag outside {U,i,o,l,d,c} in *this*
// format signals a malformed file, not a forward-compatible
// extension, so it is reported rather than silently dropped).
func Read(r io.Reader) (*Network, error) {
	n := New()
	scanner := bufio.NewScanner(r)
	var loadingTime, unloadingTime float64
	var haveLoading, haveUnloading, haveTruckCap bool
	var parseErr error

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if got, want := len(fields), minFieldsForTag(fields[0]); want > 0 && got < want {
			return nil, fmt.Errorf("network: %q record has too few fields: %q", fields[0], scanner.Text())
		}

		switch fields[0] {
		case "U":
			cap, err := strconv.Atoi(fields[1])
			if err != nil {
				parseErr = multierr.Append(parseErr, fmt.Errorf("network: bad truck capacity %q: %w", fields[1], err))
				continue
			}
			if err := n.SetTruckCapacity(cap); err != nil {
				return nil, err
			}
			haveTruckCap = true
		case "i":
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				parseErr = multierr.Append(parseErr, fmt.Errorf("network: bad unloading time %q: %w", fields[1], err))
				continue
			}
			unloadingTime = v
			haveUnloading = true
		case "o":
			v, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				parseErr = multierr.Append(parseErr, fmt.Errorf("network: bad loading time %q: %w", fields[1], err))
				continue
			}
			loadingTime = v
			haveLoading = true
		case "l":
			x, errX := strconv.ParseFloat(fields[2], 64)
			y, errY := strconv.ParseFloat(fields[3], 64)
			inCap, errIn := strconv.Atoi(fields[4])
			outCap, errOut := strconv.Atoi(fields[5])
			crossCap, errCross := strconv.Atoi(fields[6])
			docks, errDocks := strconv.Atoi(fields[7])
			if err := firstErr(errX, errY, errIn, errOut, errCross, errDocks); err != nil {
				return nil, fmt.Errorf("network: malformed location record %q: %w", scanner.Text(), err)
			}
			if _, err := n.AddLocation(Location{
				Name: fields[1], X: x, Y: y,
				SourceCapacity: inCap, TargetCapacity: outCap,
				CrossCapacity: crossCap, NumDocks: docks,
			}); err != nil {
				return nil, err
			}
		case "d":
			s, errS := strconv.Atoi(fields[1])
			t, errT := strconv.Atoi(fields[2])
			dist, errD := strconv.ParseFloat(fields[3], 64)
			if err := firstErr(errS, errT, errD); err != nil {
				return nil, fmt.Errorf("network: malformed distance record %q: %w", scanner.Text(), err)
			}
			if err := n.AddArc(s, t, dist); err != nil {
				return nil, err
			}
		case "c":
			target, errT := strconv.Atoi(fields[1])
			shift, errS := strconv.Atoi(fields[2])
			deadline, errD := strconv.ParseFloat(fields[3], 64)
			if err := firstErr(errT, errS, errD); err != nil {
				return nil, fmt.Errorf("network: malformed commodity record %q: %w", scanner.Text(), err)
			}
			if err := n.AddCommodity(target, shift, deadline); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("network: unknown record tag %q", fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, parseErr
	}
	if !haveTruckCap {
		return nil, fmt.Errorf("network: file is missing the required truck-capacity (U) record")
	}
	if !haveLoading {
		return nil, fmt.Errorf("network: file is missing the required loading-time (o) record")
	}
	if !haveUnloading {
		return nil, fmt.Errorf("network: file is missing the required unloading-time (i) record")
	}
	if err := n.SetLoadingTime(loadingTime); err != nil {
		return nil, err
	}
	if err := n.SetUnloadingTime(unloadingTime); err != nil {
		return nil, err
	}
	return n, nil
}

// minFieldsForTag is the number of whitespace-separated fields (tag
// included) a well-formed record of the given tag must have. Read
// checks this before indexing into fields, so a truncated record
// produces the "missing required field" error spec §7 prescribes
// instead of an out-of-range panic.
func minFieldsForTag(tag string) int {
	switch tag {
	case "U", "i", "o":
		return 2
	case "l":
		return 8
	case "d":
		return 4
	case "c":
		return 4
	default:
		return 0
	}
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
