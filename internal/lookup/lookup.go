// Package lookup expands AS numbers into the prefixes they announce, using
// bgpq4 (or the compatible bgpq3) as the routing registry client.
package lookup

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/ipban/internal/command"
	"github.com/DrC0ns0le/ipban/internal/routes"
	"github.com/DrC0ns0le/ipban/pkg/logging"
)

const (
	DefaultTool = "bgpq4"

	// PrefixFormat asks bgpq for one "address/length" per line.
	PrefixFormat = `%n/%l\n`
)

// Expander folds the prefixes announced by AS numbers into a RouteSet.
type Expander struct {
	Runner command.Runner
	Tool   string
	Logger logging.Logger
}

func NewExpander(runner command.Runner, tool string, logger logging.Logger) *Expander {
	if tool == "" {
		tool = DefaultTool
	}
	return &Expander{Runner: runner, Tool: tool, Logger: logger}
}

// Result is the outcome of expanding one AS number.
type Result struct {
	ASN string
	// Fetched counts prefixes returned per family.
	Fetched map[routes.Family]int
	// Inserted counts prefixes that were new to the RouteSet.
	Inserted int
	Err      error
}

// Summary aggregates the results of one Expand call.
type Summary struct {
	Results []Result
	// Inserted is the total number of prefixes added to the RouteSet.
	Inserted int
	// Failed lists the AS tokens whose lookup failed.
	Failed []string
	// Empty lists the AS tokens that announce nothing.
	Empty []string
}

// Expand looks up every ASN in order and adds the results to rs. A failed
// lookup is recorded and the remaining ASNs are still processed.
func (e *Expander) Expand(ctx context.Context, asns []string, rs *routes.RouteSet) Summary {
	var sum Summary
	for _, asn := range asns {
		res := e.expandOne(ctx, asn, rs)
		sum.Results = append(sum.Results, res)
		sum.Inserted += res.Inserted
		switch {
		case res.Err != nil:
			sum.Failed = append(sum.Failed, asn)
		case res.Fetched[routes.V4]+res.Fetched[routes.V6] == 0:
			sum.Empty = append(sum.Empty, asn)
		}
	}

	if len(sum.Failed) > 0 {
		e.Logger.Warnf("prefix lookup failed for %d of %d AS numbers (%s), route list may be incomplete",
			len(sum.Failed), len(asns), strings.Join(sum.Failed, ", "))
	}
	return sum
}

func (e *Expander) expandOne(ctx context.Context, token string, rs *routes.RouteSet) Result {
	res := Result{ASN: token, Fetched: make(map[routes.Family]int)}

	asn, err := routes.NormalizeASN(token)
	if err != nil {
		e.Logger.Warnf("skipping prefix lookup: %v", err)
		res.Err = err
		return res
	}

	e.Logger.Infof("fetching prefixes for AS%s", asn)

	// both families must succeed before anything is inserted
	fetched := make(map[routes.Family][]string, len(routes.Families))
	for _, f := range routes.Families {
		prefixes, err := e.Lookup(ctx, asn, f)
		if err != nil {
			e.Logger.Errorf("%s prefix lookup for AS%s failed: %v", f, asn, err)
			res.Err = err
			return res
		}
		fetched[f] = prefixes
	}

	for _, f := range routes.Families {
		res.Fetched[f] = len(fetched[f])
		for _, p := range fetched[f] {
			added, err := rs.Add(f, p)
			if err != nil {
				continue
			}
			if added {
				res.Inserted++
				e.Logger.Debugf("adding %s prefix from AS%s: %s", f, asn, p)
			}
		}
	}

	if res.Fetched[routes.V4]+res.Fetched[routes.V6] == 0 {
		e.Logger.Infof("no prefixes announced by AS%s", asn)
	} else {
		e.Logger.Infof("AS%s: %d IPv4 and %d IPv6 prefixes, %d new",
			asn, res.Fetched[routes.V4], res.Fetched[routes.V6], res.Inserted)
	}
	return res
}

// Lookup queries the tool for the aggregated prefixes of asn in family f.
// asn is the bare number. Output lines that are not prefixes are ignored.
func (e *Expander) Lookup(ctx context.Context, asn string, f routes.Family) ([]string, error) {
	args := []string{f.Flag(), "-A", "-F", PrefixFormat, "AS" + asn}
	e.Logger.Infof("executing: %s", command.Line(e.Tool, args...))

	res := e.Runner.Run(ctx, e.Tool, args...)
	e.Logger.Debugf("%s: %s", res.Line(), res.Describe())
	if !res.OK() {
		if len(res.Stderr) > 0 {
			e.Logger.Debugf("%s stderr: %s", e.Tool, bytes.TrimSpace(res.Stderr))
		}
		return nil, errors.Wrap(res.Error(), "prefix lookup")
	}

	prefixes, err := parsePrefixes(res.Stdout)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s output", e.Tool)
	}
	return prefixes, nil
}

func parsePrefixes(out []byte) ([]string, error) {
	var prefixes []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if routes.IsPrefix(line) {
			prefixes = append(prefixes, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return prefixes, nil
}
