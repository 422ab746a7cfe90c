package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finledger-dev/finledger/internal/model"
)

var fingerprintRe = regexp.MustCompile(`fingerprint:\s*([0-9a-fA-F]+)`)

// Block is one transaction as read back from a journal file.
type Block struct {
	Line        int // 1-based line of the header
	Date        time.Time
	Payee       string
	Fingerprint model.Fingerprint
	Postings    []model.Posting
	Text        string // header and posting lines, newline terminated

	problems []string
}

// Account returns the first posting's account, or "".
func (b Block) Account() string {
	if len(b.Postings) == 0 {
		return ""
	}
	return b.Postings[0].Account
}

// ParseBlocks reads every transaction block from r. A block starts at a line
// beginning with a digit and runs until a blank or unindented line. Other
// top-level lines (comments, directives) are skipped. Malformed content does
// not stop parsing; it is reported by Validate.
func ParseBlocks(r io.Reader) ([]Block, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var blocks []Block
	var cur *Block
	var text strings.Builder
	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = text.String()
		blocks = append(blocks, *cur)
		cur = nil
		text.Reset()
	}

	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimRight(sc.Text(), " \t\r")

		switch {
		case raw == "":
			flush()
		case raw[0] >= '0' && raw[0] <= '9':
			flush()
			b := parseHeader(line, raw)
			cur = &b
			text.WriteString(raw + "\n")
		case raw[0] == ' ' || raw[0] == '\t':
			if cur == nil {
				continue
			}
			text.WriteString(raw + "\n")
			parsePostingLine(cur, line, strings.TrimSpace(raw))
		default:
			flush()
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	flush()
	return blocks, nil
}

// ParseFile parses the blocks of the file at path. A missing file has none.
func ParseFile(path string) ([]Block, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	blocks, err := ParseBlocks(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return blocks, nil
}

// Fingerprints returns the fingerprints recorded in the file at path, in
// file order. A missing file has none.
func Fingerprints(path string) ([]model.Fingerprint, error) {
	blocks, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	var fps []model.Fingerprint
	for _, b := range blocks {
		if b.Fingerprint != "" {
			fps = append(fps, b.Fingerprint)
		}
	}
	return fps, nil
}

func parseHeader(line int, raw string) Block {
	b := Block{Line: line}

	head, comment, _ := strings.Cut(raw, ";")
	if m := fingerprintRe.FindStringSubmatch(comment); m != nil {
		b.Fingerprint = model.Fingerprint(strings.ToLower(m[1]))
	}

	head = strings.TrimSpace(head)
	dateText, payee, _ := strings.Cut(head, " ")
	date, err := parseDate(dateText)
	if err != nil {
		b.problems = append(b.problems, fmt.Sprintf("invalid date %q", dateText))
	}
	b.Date = date
	b.Payee = strings.TrimSpace(payee)
	return b
}

// parseDate accepts hledger's simple date forms with -, / or . separators.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006/01/02", "2006.01.02", "2006-1-2", "2006/1/2"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parsePostingLine(b *Block, line int, s string) {
	if strings.HasPrefix(s, ";") || strings.HasPrefix(s, "#") {
		if b.Fingerprint == "" {
			if m := fingerprintRe.FindStringSubmatch(s); m != nil {
				b.Fingerprint = model.Fingerprint(strings.ToLower(m[1]))
			}
		}
		return
	}

	s, _, _ = strings.Cut(s, ";")
	s = strings.TrimSpace(s)

	account, amountText := splitPosting(s)
	p := model.Posting{Account: account}
	if amountText == "" {
		p.Elided = true
	} else {
		amt, err := ParseLedgerAmount(amountText)
		if err != nil {
			b.problems = append(b.problems, fmt.Sprintf("line %d: invalid amount %q", line, amountText))
		}
		p.Amount = amt
	}
	b.Postings = append(b.Postings, p)
}

// splitPosting separates the account from the amount at the first tab or
// run of two spaces.
func splitPosting(s string) (account, amount string) {
	i := strings.Index(s, "  ")
	if j := strings.IndexByte(s, '\t'); j >= 0 && (i < 0 || j < i) {
		i = j
	}
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// ParseLedgerAmount parses an amount like "$42.50", "-$12.00", "$-12.00" or
// "12.00 EUR", ignoring the commodity and thousands separators. The
// returned decimal keeps its written precision.
func ParseLedgerAmount(s string) (decimal.Decimal, error) {
	var b strings.Builder
	neg := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-':
			neg = !neg
		case r == ',':
		case r == '=' || r == '@':
			return decimal.Zero, fmt.Errorf("unsupported amount %q", s)
		}
	}
	if b.Len() == 0 {
		return decimal.Zero, fmt.Errorf("no number in amount %q", s)
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}
