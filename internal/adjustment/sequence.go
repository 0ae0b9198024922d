package adjustment

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxPaddedSeq is the largest sequence number that keeps the two-digit format.
const MaxPaddedSeq = 99

// FormatSeq renders n as a zero-padded two-digit item sequence id. Values above
// MaxPaddedSeq come out wider; see SeqOverflows.
func FormatSeq(n int) string {
	return fmt.Sprintf("%02d", n)
}

// ParseSeq reads an item sequence id.
func ParseSeq(seq string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(seq))
	if err != nil {
		return 0, fmt.Errorf("adjustment: invalid item sequence %q: %w", seq, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("adjustment: negative item sequence %q", seq)
	}
	return n, nil
}

// SeqOverflows reports whether n no longer fits the two-digit format.
func SeqOverflows(n int) bool {
	return n > MaxPaddedSeq
}

// NextSeq returns one past the highest sequence used by items, tombstones
// included, so a retracted id is never reused within a document.
func NextSeq(items []LineItem) int {
	highest := 0
	for _, it := range items {
		n, err := ParseSeq(it.ItemSeqID)
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1
}
