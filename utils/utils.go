package utils

import (
	"math/rand"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// API error codes returned in the response envelope's "code" field. 0 means
// success, everything else pairs with an http status.
const (
	ErrorNone          = 0
	ErrorTokenAuthFail = 10001
	ErrorBadRequest    = 10002
	ErrorNotFound      = 10003
	ErrorDuplicate     = 10004
	ErrorInternal      = 10005
)

// ContainsString returns true iff the provided string slice hay contains
// string needle.
func ContainsString(hay []string, needle string) bool {
	for _, str := range hay {
		if str == needle {
			return true
		}
	}
	return false
}

// RandomAlphabetString generates a random lowercase string of length n.
func RandomAlphabetString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// DedupStrings returns the input strings with duplicates removed, keeping the
// first occurrence order.
func DedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
