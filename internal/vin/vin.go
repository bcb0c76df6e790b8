// Package vin validates Vehicle Identification Numbers.
package vin

import "strings"

const vinLength = 17

// transliteration values per the North American VIN check-digit scheme.
// I, O and Q are not legal VIN characters.
var charValues = map[byte]int{
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8,
	'J': 1, 'K': 2, 'L': 3, 'M': 4, 'N': 5, 'P': 7, 'R': 9,
	'S': 2, 'T': 3, 'U': 4, 'V': 5, 'W': 6, 'X': 7, 'Y': 8, 'Z': 9,
	'0': 0, '1': 1, '2': 2, '3': 3, '4': 4, '5': 5, '6': 6, '7': 7, '8': 8, '9': 9,
}

var positionWeights = [vinLength]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

// Normalize uppercases and trims a VIN for use as a cache key.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Valid reports whether v is a structurally valid VIN: 17 characters,
// legal charset, and a matching check digit at position 9.
func Valid(v string) bool {
	v = Normalize(v)
	if len(v) != vinLength {
		return false
	}

	sum := 0
	for i := 0; i < vinLength; i++ {
		value, ok := charValues[v[i]]
		if !ok {
			return false
		}
		sum += value * positionWeights[i]
	}

	remainder := sum % 11
	check := byte('0' + remainder)
	if remainder == 10 {
		check = 'X'
	}

	return v[8] == check
}
