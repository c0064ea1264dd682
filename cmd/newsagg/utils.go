package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseDuration extends time.ParseDuration to support 'd' (days) and 'w'
// (weeks)
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	// Try standard parsing first
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	units := map[string]time.Duration{
		"d": 24 * time.Hour,
		"w": 7 * 24 * time.Hour,
	}
	for suffix, unit := range units {
		if !strings.HasSuffix(s, suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(s, suffix))
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(n) * unit, nil
	}

	return 0, fmt.Errorf("invalid duration: %s", s)
}
