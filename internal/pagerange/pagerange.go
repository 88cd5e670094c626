// Package pagerange resolves page-range expressions such as "1, 3-5, 9-"
// against a document's page count.
//
// Tokens are comma separated. Each token is a page number "n", a closed range
// "a-b" or "a:b", or an open range "a-" / "a:" running to the last page.
// Expansion keeps first-occurrence order and does not de-duplicate. Pages
// outside [1, upperBound] are dropped and reported through Result.Clamped.
package pagerange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrSyntax marks an expression that does not match the range grammar.
	ErrSyntax = errors.New("invalid page range")
	// ErrDescending marks a range token whose start is greater than its end.
	ErrDescending = errors.New("descending page range")
	// ErrEmpty marks an expression whose pages all fall outside the document.
	ErrEmpty = errors.New("page range selects no pages")
)

// maxPage caps individual numbers so absurd input cannot overflow.
const maxPage = 1_000_000

// Result is the outcome of resolving an expression.
type Result struct {
	// Pages holds the in-bound pages in expansion order, duplicates included.
	Pages []int
	// Requested is the number of pages the expression expanded to before
	// bounds filtering.
	Requested int
	// Clamped reports that some requested pages were outside the document.
	Clamped bool
	// Label is the expression with whitespace removed, used in output names.
	Label string
}

type span struct {
	start int
	end   int
	open  bool
}

// Resolve parses expr and expands it against upperBound, the page count of
// the target document. Any malformed token invalidates the whole expression.
func Resolve(expr string, upperBound int) (Result, error) {
	spans, label, err := parse(expr)
	if err != nil {
		return Result{}, err
	}

	res := Result{Label: label}
	for _, s := range spans {
		end := s.end
		if s.open {
			end = upperBound
			if s.start > end {
				// "a-" past the last page requests exactly one missing page.
				res.Requested++
				res.Clamped = true
				continue
			}
		}
		res.Requested += end - s.start + 1
		lo, hi := s.start, end
		if lo < 1 {
			lo = 1
			res.Clamped = true
		}
		if hi > upperBound {
			hi = upperBound
			res.Clamped = true
		}
		for p := lo; p <= hi; p++ {
			res.Pages = append(res.Pages, p)
		}
	}

	if len(res.Pages) == 0 {
		return Result{}, fmt.Errorf("%w: %q has no pages within 1-%d", ErrEmpty, expr, upperBound)
	}
	return res, nil
}

func parse(expr string) ([]span, string, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, "", fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	tokens := strings.Split(expr, ",")
	spans := make([]span, 0, len(tokens))
	labels := make([]string, 0, len(tokens))
	for _, raw := range tokens {
		s, label, err := parseToken(raw)
		if err != nil {
			return nil, "", err
		}
		spans = append(spans, s)
		labels = append(labels, label)
	}
	return spans, strings.Join(labels, ","), nil
}

// parseToken parses one comma-separated token. Whitespace is allowed around
// the token and next to the separator, never inside a number.
func parseToken(raw string) (span, string, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return span{}, "", fmt.Errorf("%w: empty token", ErrSyntax)
	}
	sep := strings.IndexAny(token, "-:")
	if sep < 0 {
		n, err := parseNumber(token)
		if err != nil {
			return span{}, "", err
		}
		return span{start: n, end: n}, token, nil
	}

	head := strings.TrimSpace(token[:sep])
	start, err := parseNumber(head)
	if err != nil {
		return span{}, "", err
	}
	rest := strings.TrimSpace(token[sep+1:])
	label := head + token[sep:sep+1] + rest
	if rest == "" {
		return span{start: start, open: true}, label, nil
	}
	end, err := parseNumber(rest)
	if err != nil {
		return span{}, "", err
	}
	if start > end {
		return span{}, "", fmt.Errorf("%w: %q", ErrDescending, token)
	}
	return span{start: start, end: end}, label, nil
}

func parseNumber(text string) (int, error) {
	if text == "" {
		return 0, fmt.Errorf("%w: missing number", ErrSyntax)
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q is not a number", ErrSyntax, text)
		}
	}
	n, err := strconv.Atoi(text)
	if err != nil || n > maxPage {
		return 0, fmt.Errorf("%w: %q is out of range", ErrSyntax, text)
	}
	return n, nil
}
