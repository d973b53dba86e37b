package recipients

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/kursadbilgin/campaign-engine/internal/domain"
)

// FromFile reads a recipient list: one phone number per line, blank lines
// skipped, duplicates collapsed. The result is in canonical (lexicographic)
// order so re-runs over the same file dispatch in the same order.
func FromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open recipient file %s: %v", domain.ErrValidation, path, err)
	}
	defer f.Close()

	return FromReader(f)
}

// FromReader parses a recipient list from r with FromFile's semantics.
func FromReader(r io.Reader) ([]string, error) {
	seen := map[string]struct{}{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		number := strings.TrimSpace(scanner.Text())
		if number == "" {
			continue
		}
		seen[number] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read recipient list: %w", err)
	}

	return sortedKeys(seen), nil
}

// Canonicalize applies the file semantics (trim, drop blanks, dedupe, sort)
// to an in-memory list.
func Canonicalize(numbers []string) []string {
	seen := map[string]struct{}{}
	for _, n := range numbers {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		seen[n] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
