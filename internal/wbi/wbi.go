// Package wbi implements the signed-query scheme used by a subset of the
// platform's web APIs. A request is signed by mixing two rotating keys from
// the navigation endpoint into a 32-byte key, appending a unix timestamp and
// an md5 token over the sorted, encoded parameters.
package wbi

import (
	"crypto/md5" // #nosec G501 -- the platform's scheme mandates md5
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// mixinKeyEncTab is the fixed permutation over the concatenated img+sub keys.
// The first 32 positions form the mixin key.
var mixinKeyEncTab = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35, 27, 43, 5, 49,
	33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13, 37, 48, 7, 16, 24, 55, 40, 61,
	26, 17, 0, 1, 60, 51, 30, 4, 22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 36,
	20, 34, 44, 52,
}

// MixinKey derives the 32-character signing key from the two rotating keys.
func MixinKey(imgKey, subKey string) string {
	orig := imgKey + subKey
	var b strings.Builder
	b.Grow(32)
	for _, idx := range mixinKeyEncTab {
		if idx < len(orig) {
			b.WriteByte(orig[idx])
		}
		if b.Len() >= 32 {
			break
		}
	}
	return b.String()
}

// Sign returns the final query string for params signed with the given keys:
// the caller's parameters plus wts (current unix seconds) and w_rid.
func Sign(params map[string]string, imgKey, subKey string) string {
	return signAt(params, imgKey, subKey, time.Now().Unix())
}

func signAt(params map[string]string, imgKey, subKey string, unix int64) string {
	mixin := MixinKey(imgKey, subKey)

	filtered := make(map[string]string, len(params)+2)
	for k, v := range params {
		filtered[k] = stripUnsafe(v)
	}
	filtered["wts"] = strconv.FormatInt(unix, 10)

	query := encodeSorted(filtered)

	sum := md5.Sum([]byte(query + mixin)) // #nosec G401
	filtered["w_rid"] = hex.EncodeToString(sum[:])

	return encodeSorted(filtered)
}

// stripUnsafe removes the characters the scheme forbids in values.
func stripUnsafe(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '!', '\'', '(', ')', '*':
			return -1
		}
		return r
	}, v)
}

// encodeSorted renders params as k=v pairs, percent-encoded and joined in
// lexicographic key order.
func encodeSorted(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(percentEncode(k))
		b.WriteByte('=')
		b.WriteString(percentEncode(params[k]))
	}
	return b.String()
}

const upperhex = "0123456789ABCDEF"

// percentEncode applies RFC 3986 encoding: unreserved characters pass
// through, everything else (including space) becomes %XX.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xf])
		}
	}
	return b.String()
}
