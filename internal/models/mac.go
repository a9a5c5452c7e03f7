package models

import (
	"fmt"
	"net"
	"strings"
)

// NormalizeMAC приводит MAC к каноническому виду: верхний регистр,
// разделитель «:». Принимает формы с «:», «-» и слитные 12 hex-символов.
func NormalizeMAC(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty mac address")
	}
	// слитная форма без разделителей
	if len(s) == 12 && !strings.ContainsAny(s, ":-.") {
		var parts []string
		for i := 0; i < 12; i += 2 {
			parts = append(parts, s[i:i+2])
		}
		s = strings.Join(parts, ":")
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return "", fmt.Errorf("invalid mac address %q: %w", s, err)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("invalid mac address %q: want 48 bit", s)
	}
	return strings.ToUpper(hw.String()), nil
}
