// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package phone normalizes contact phone numbers.
//
// The messaging provider reports sender numbers with the country code
// prefixed (e.g. "919123456789"), while the directory store keys users by
// the bare subscriber number. Session keys use the store form; outbound
// sends use the dialable form.
package phone

import "strings"

// DefaultCountryCode is the dialing prefix assumed when none is configured.
const DefaultCountryCode = "91"

// subscriberDigits is the length of a bare subscriber number. The country
// code is only stripped from numbers longer than this, so a local number
// that happens to start with the code's digits is left alone.
const subscriberDigits = 10

// Normalize converts a provider-reported number to the store form by
// stripping a leading country code, if present.
func Normalize(raw, countryCode string) string {
	n := strings.TrimSpace(raw)
	n = strings.TrimPrefix(n, "+")
	if countryCode != "" && strings.HasPrefix(n, countryCode) &&
		len(n) >= len(countryCode)+subscriberDigits {
		n = n[len(countryCode):]
	}
	return n
}

// Dialable converts a store-form number to the form the provider expects,
// re-adding the country code when missing.
func Dialable(normalized, countryCode string) string {
	if normalized == "" {
		return ""
	}
	if countryCode != "" && len(normalized) < len(countryCode)+subscriberDigits {
		return countryCode + normalized
	}
	return normalized
}

// SanitizeInput cleans a user-typed phone number: whitespace removed,
// leading "+<cc>" or "0" stripped. The second return is false when the
// remainder is empty or contains non-digit characters.
func SanitizeInput(input, countryCode string) (string, bool) {
	n := strings.Join(strings.Fields(input), "")
	if countryCode != "" {
		n = strings.TrimPrefix(n, "+"+countryCode)
	}
	n = strings.TrimPrefix(n, "+")
	n = strings.TrimPrefix(n, "0")
	if n == "" {
		return "", false
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	// A typed number may still carry the bare country code.
	return Normalize(n, countryCode), true
}
