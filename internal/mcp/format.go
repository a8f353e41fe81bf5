package mcp

import (
	"fmt"
	"strconv"
	"strings"
)

// formatNumber renders whole numbers with thousands separators. JSON numbers
// arrive as float64; fractional ones get one decimal place.
func formatNumber(n any) string {
	var digits string
	switch v := n.(type) {
	case float64:
		if v != float64(int64(v)) {
			return strconv.FormatFloat(v, 'f', 1, 64)
		}
		digits = strconv.FormatInt(int64(v), 10)
	case int:
		digits = strconv.Itoa(v)
	case int64:
		digits = strconv.FormatInt(v, 10)
	case uint64:
		digits = strconv.FormatUint(v, 10)
	default:
		return fmt.Sprint(n)
	}
	return groupThousands(digits)
}

func groupThousands(digits string) string {
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	if len(digits) <= 3 {
		return sign + digits
	}

	var b strings.Builder
	b.WriteString(sign)
	head := len(digits) % 3
	if head == 0 {
		head = 3
	}
	b.WriteString(digits[:head])
	for i := head; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// kv renders "Key:" padded to a 20 column label followed by the value.
func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

func section(title string) string {
	return "## " + title
}

// joinLines joins lines with newlines, dropping empty ones.
func joinLines(lines ...string) string {
	var kept []string
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func formatMs(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "ms"
}
