package capture

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"netguard/internal/features"
	"netguard/internal/model"
)

// TimestampLayout matches the "-tttt" stamp tcpdump prints at the start of each line.
const TimestampLayout = "2006-01-02 15:04:05.000000"

var (
	timestampPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{6})`)
	addressPattern   = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3})(?:\.\d+)?\s+>\s+(\d{1,3}(?:\.\d{1,3}){3})(?:\.\d+)?`)
	portPattern      = regexp.MustCompile(`\d{1,3}(?:\.\d{1,3}){3}\.(\d+)\s+>\s+\d{1,3}(?:\.\d{1,3}){3}\.(\d+)`)
	protocolPattern  = regexp.MustCompile(`\b(` + strings.Join(features.Protocols, "|") + `)\b`)
	lengthPattern    = regexp.MustCompile(`\blength (\d+)`)
	flagsPattern     = regexp.MustCompile(`Flags \[([^\]]+)\]`)
	ttlPattern       = regexp.MustCompile(`\bttl (\d+)`)
	windowPattern    = regexp.MustCompile(`\bwin (\d+)`)
	checksumPattern  = regexp.MustCompile(`\bcksum (0x[0-9a-fA-F]+|\d+)`)
)

// ParseLine scans one line of capture output. Every token is optional; the
// record is returned only when at least one field besides the timestamp was
// found. Unrecognized lines return ok=false and never an error.
func ParseLine(line string, now time.Time) (model.PacketRecord, bool) {
	rec := model.PacketRecord{CapturedAt: now}
	line = strings.TrimSpace(line)
	if line == "" {
		return rec, false
	}

	if m := timestampPattern.FindStringSubmatch(line); m != nil {
		if ts, err := time.ParseInLocation(TimestampLayout, m[1], time.Local); err == nil {
			rec.CapturedAt = ts
		}
	}

	fields := 0

	if m := addressPattern.FindStringSubmatch(line); m != nil {
		rec.Source = m[1]
		rec.Destination = m[2]
		fields++

		// Port pair is only trusted alongside an address pair.
		if pm := portPattern.FindStringSubmatch(line); pm != nil {
			src, errSrc := parsePort(pm[1])
			dst, errDst := parsePort(pm[2])
			if errSrc == nil && errDst == nil {
				rec.Ports = &model.PortPair{Source: src, Destination: dst}
				fields++
			}
		}
	}

	if m := protocolPattern.FindStringSubmatch(line); m != nil {
		rec.Protocol = m[1]
		fields++
	}

	if m := lengthPattern.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			rec.Length = n
			fields++
		}
	}

	if m := flagsPattern.FindStringSubmatch(line); m != nil {
		rec.Flags = m[1]
		fields++
	}

	if v, ok := intToken(ttlPattern, line); ok {
		rec.TTL = &v
		fields++
	}

	if v, ok := intToken(windowPattern, line); ok {
		rec.Window = &v
		fields++
	}

	if m := checksumPattern.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseUint(m[1], 0, 32); err == nil {
			sum := uint32(v)
			rec.Checksum = &sum
			fields++
		}
	}

	return rec, fields > 0
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if p < 0 || p > 65535 {
		return 0, strconv.ErrRange
	}
	return p, nil
}

func intToken(re *regexp.Regexp, line string) (int, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

var interfacePattern = regexp.MustCompile(`^\d+\.(\S+)`)

// parseInterfaces reads "tcpdump -D" output, e.g. "1.eth0 [Up, Running, Connected]".
func parseInterfaces(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		m := interfacePattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		names = append(names, m[1])
	}
	return names
}
