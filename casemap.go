package main

import "strings"

// Casemapping is rfc1459: {}|^ are the lowercase equivalents of []\~.
// The teacher's util.go used plain strings.ToLower for canonicalizeNick/
// canonicalizeChannel, which is wrong for the four special characters;
// this corrects it per spec §4.M and ISUPPORT's CASEMAPPING=rfc1459.
func caseFold(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'A' && c <= 'Z':
			b[i] = c + ('a' - 'A')
		case c == '[':
			b[i] = '{'
		case c == ']':
			b[i] = '}'
		case c == '\\':
			b[i] = '|'
		case c == '~':
			b[i] = '^'
		}
	}
	return string(b)
}

func canonicalizeNick(n string) string { return caseFold(n) }

func canonicalizeChannel(c string) string { return caseFold(c) }

const maxChannelNameLength = 50
const maxTopicLength = 390

// isValidNick follows the teacher's util.go shape (leading letter/special,
// then letters/digits/specials), generalized to the fuller rfc2812 nick
// grammar: letter | special, then any of letter/digit/special/'-'.
func isValidNick(maxLen int, n string) bool {
	if len(n) == 0 || len(n) > maxLen {
		return false
	}
	if !isNickLetterOrSpecial(n[0]) {
		return false
	}
	for i := 1; i < len(n); i++ {
		c := n[i]
		if !isNickLetterOrSpecial(c) && !(c >= '0' && c <= '9') && c != '-' {
			return false
		}
	}
	return true
}

func isNickLetterOrSpecial(c byte) bool {
	if c >= 'a' && c <= 'z' {
		return true
	}
	if c >= 'A' && c <= 'Z' {
		return true
	}
	switch c {
	case '[', ']', '\\', '`', '_', '^', '{', '|', '}':
		return true
	}
	return false
}

// isValidUser mirrors the teacher's util.go isValidUser: no spaces, no
// '@', non-empty, bounded length.
func isValidUser(maxLen int, u string) bool {
	if len(u) == 0 || len(u) > maxLen {
		return false
	}
	for i := 0; i < len(u); i++ {
		if u[i] == ' ' || u[i] == '@' || u[i] == '\r' || u[i] == '\n' || u[i] == '\x00' {
			return false
		}
	}
	return true
}

func isValidRealName(r string) bool {
	if len(r) == 0 || len(r) > 390 {
		return false
	}
	return !strings.ContainsAny(r, "\r\n\x00")
}

const channelTypes = "#&+!"

func isValidChannel(c string) bool {
	if len(c) < 2 || len(c) > maxChannelNameLength {
		return false
	}
	if strings.IndexByte(channelTypes, c[0]) == -1 {
		return false
	}
	return !strings.ContainsAny(c[1:], " ,\x07\r\n\x00")
}

// matchesMask does wildcard ('*', '?') matching of a hostmask against
// nick!user@host, case-insensitive under rfc1459 casemapping (spec
// §4.M). Grounded on the ban-matching calls referenced (but not defined
// in the retrieved snapshot) from local_client.go's registerUser and
// local_server.go's klineCommand.
func matchesMask(mask, target string) bool {
	return wildcardMatch(caseFold(mask), caseFold(target))
}

func wildcardMatch(pattern, s string) bool {
	// Standard glob-match-with-backtracking over '*' and '?'.
	var pIdx, sIdx, starIdx, matchIdx int
	starIdx = -1
	for sIdx < len(s) {
		if pIdx < len(pattern) && (pattern[pIdx] == '?' || pattern[pIdx] == s[sIdx]) {
			pIdx++
			sIdx++
			continue
		}
		if pIdx < len(pattern) && pattern[pIdx] == '*' {
			starIdx = pIdx
			matchIdx = sIdx
			pIdx++
			continue
		}
		if starIdx != -1 {
			pIdx = starIdx + 1
			matchIdx++
			sIdx = matchIdx
			continue
		}
		return false
	}
	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}
	return pIdx == len(pattern)
}
