package threat

import (
	"bufio"
	"io"
	"strings"
)

// MaxSecondaryLines bounds how many usable lines of the reputation list are
// read per cycle.
const MaxSecondaryLines = 100

// ReputationListParser parses the line-oriented reputation format:
// "IP[#extra#fields...]". Blank lines and lines starting with "#" are
// skipped; the IP is the text before the first "#".
type ReputationListParser struct {
	// Limit caps the number of usable lines returned. Zero means
	// MaxSecondaryLines.
	Limit int
}

// Parse returns at most Limit IPs in feed order. Lines may be as long as the
// feed size cap. On a read error the IPs collected so far are returned with
// it.
func (p *ReputationListParser) Parse(r io.Reader) ([]string, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = MaxSecondaryLines
	}
	var ips []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFeedSize+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		ips = append(ips, line)
		if len(ips) >= limit {
			return ips, nil
		}
	}
	return ips, scanner.Err()
}
