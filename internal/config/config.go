// Package config reads the routes.toml style blackhole configuration.
//
// The format is line oriented INI, tokenized with go-ini: "[section]"
// headers followed by "key = [item, item, ...]" lines. Only the routes lists
// of the two route sections and the as_numbers list of the ASN section are
// read; everything else is ignored. Text after '#' or ';' is a comment.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/DrC0ns0le/ipban/internal/orderedset"
	"github.com/DrC0ns0le/ipban/internal/routes"
	"github.com/DrC0ns0le/ipban/pkg/logging"
)

const (
	DefaultPath = "/etc/ipban/routes.toml"

	routesKey = "routes"
	asnKey    = "as_numbers"
)

// ErrRead is matched by every failure to obtain the document itself.
var ErrRead = errors.New("config unreadable")

// ReadError is returned when the document cannot be opened or read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read config %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

func (e *ReadError) Is(target error) bool { return target == ErrRead }

// Sections names the three sections the parser looks at.
type Sections struct {
	IPv4 string
	IPv6 string
	ASN  string
}

func DefaultSections() Sections {
	return Sections{
		IPv4: "ipv4_routes",
		IPv6: "ipv6_routes",
		ASN:  "asn_block",
	}
}

// Config is the parsed document.
type Config struct {
	// Routes holds the literal prefixes, deduplicated per family.
	Routes *routes.RouteSet
	// ASNs holds the accepted AS tokens as written, deduplicated.
	ASNs *orderedset.Set[string]
	// Warnings counts rejected lines and tokens.
	Warnings int
}

// Load opens path and parses it.
func Load(path string, sections Sections, logger logging.Logger) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	defer f.Close()

	cfg, err := Parse(f, sections, logger)
	if err != nil {
		var re *ReadError
		if errors.As(err, &re) {
			re.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse consumes the whole of r. Malformed lines are warned about and
// skipped; only a read error from r fails the parse.
func Parse(r io.Reader, sections Sections, logger logging.Logger) (*Config, error) {
	p := &parser{
		sections: sections,
		logger:   logger,
		cfg: &Config{
			Routes: routes.NewRouteSet(),
			ASNs:   orderedset.New[string](),
		},
	}

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			p.lineNum++
			if p.lineNum == 1 {
				line = strings.TrimPrefix(line, "\ufeff")
			}
			p.parseLine(line)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ReadError{Err: err}
		}
	}

	return p.cfg, nil
}

type parser struct {
	sections Sections
	logger   logging.Logger

	cfg     *Config
	current string
	lineNum int
}

func (p *parser) warnf(format string, v ...interface{}) {
	p.cfg.Warnings++
	p.logger.Warnf("line %d: "+format, append([]interface{}{p.lineNum}, v...)...)
}

// lineOptions tokenize a single line. Each line is loaded as its own
// document so that a line go-ini cannot parse is one warning, not a failed
// config, and warnings keep their line number.
var lineOptions = ini.LoadOptions{
	IgnoreContinuation:      true,
	SkipUnrecognizableLines: true,
	KeyValueDelimiters:      "=",
	// a quoted value is not a list; keep the quotes so splitList rejects it
	PreserveSurroundedQuote: true,
}

func (p *parser) parseLine(line string) {
	if i := strings.IndexAny(line, "#;"); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	f, err := ini.LoadSources(lineOptions, []byte(line))
	if err != nil {
		p.warnf("malformed line %q: %v", line, err)
		return
	}

	if line[0] == '[' {
		secs := f.Sections()
		p.current = strings.TrimSpace(secs[len(secs)-1].Name())
		return
	}

	for _, key := range f.Section(ini.DefaultSection).Keys() {
		p.parseKey(key.Name(), strings.TrimSpace(key.Value()))
	}
}

func (p *parser) parseKey(key, value string) {
	if key == "" || value == "" {
		return
	}

	switch {
	case p.current == p.sections.IPv4 && key == routesKey:
		p.addRoutes(routes.V4, value)
	case p.current == p.sections.IPv6 && key == routesKey:
		p.addRoutes(routes.V6, value)
	case p.current == p.sections.ASN && key == asnKey:
		p.addASNs(value)
	}
}

func (p *parser) addRoutes(family routes.Family, value string) {
	items, ok := splitList(value)
	if !ok {
		p.warnf("malformed %s route list %q", family, value)
		return
	}
	for _, item := range items {
		if _, err := p.cfg.Routes.Add(family, item); err != nil {
			p.warnf("invalid %s route %q (missing '/')", family, item)
		}
	}
}

func (p *parser) addASNs(value string) {
	items, ok := splitList(value)
	if !ok {
		p.warnf("malformed AS number list %q", value)
		return
	}
	for _, item := range items {
		if _, err := routes.NormalizeASN(item); err != nil {
			p.warnf("invalid AS number %q", item)
			continue
		}
		p.cfg.ASNs.Add(item)
	}
}

// splitList turns `["a", b ,"c"]` into [a b c]. Empty items are dropped.
// It reports false when value is not bracketed.
func splitList(value string) ([]string, bool) {
	if len(value) < 2 || value[0] != '[' || value[len(value)-1] != ']' {
		return nil, false
	}
	inner := value[1 : len(value)-1]

	var items []string
	for _, tok := range strings.Split(inner, ",") {
		tok = unquote(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		items = append(items, tok)
	}
	return items, true
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
