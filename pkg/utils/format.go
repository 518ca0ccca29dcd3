// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"
)

// FormatWon formats an amount in Korean won with thousands grouping.
func FormatWon(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.0f", amount)
	result := groupThousands(str)
	result += "원"
	if negative {
		result = "-" + result
	}
	return result
}

func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	var parts []string
	for n > 3 {
		parts = append([]string{s[n-3:]}, parts...)
		s = s[:n-3]
		n = len(s)
	}
	parts = append([]string{s}, parts...)
	return strings.Join(parts, ",")
}

// FormatPercent formats a percentage with an explicit sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatQuantity formats a share count.
func FormatQuantity(qty int) string {
	return fmt.Sprintf("%s주", groupThousands(fmt.Sprintf("%d", qty)))
}
