package main

import "unicode"

func isValidAccountID(accountID string) bool {
	return isValidToken(accountID, 64)
}

func isValidCrosswordID(crosswordID string) bool {
	return isValidToken(crosswordID, 64)
}

func isValidToken(value string, maxLen int) bool {
	if value == "" || len(value) > maxLen {
		return false
	}

	for _, r := range value {
		if r == '-' || r == '_' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return false
	}

	return true
}
