package urlkind

import (
	"fmt"
	"strings"
)

// Constants of the fixed aid<->bvid bijection.
const (
	xorCode  int64 = 23442827791579
	maskCode int64 = (1 << 51) - 1
	maxAid   int64 = 1 << 51
)

const bvAlphabet = "FcwAPNKTMug3GV5Lj7EJnHpWsx4tb8haYeviqBz6rkCy12mUSDQX9RdoZf"

var bvIndex = func() map[byte]int64 {
	m := make(map[byte]int64, len(bvAlphabet))
	for i := 0; i < len(bvAlphabet); i++ {
		m[bvAlphabet[i]] = int64(i)
	}
	return m
}()

// swap positions applied after base-58 encoding and reversed before decoding.
var bvSwaps = [2][2]int{{3, 9}, {4, 7}}

// EncodeAid converts a numeric video id to its bvid form.
func EncodeAid(aid int64) string {
	b := []byte("BV1000000000")
	tmp := (maxAid | aid) ^ xorCode
	for i := len(b) - 1; tmp > 0 && i >= 3; i-- {
		b[i] = bvAlphabet[tmp%58]
		tmp /= 58
	}
	for _, s := range bvSwaps {
		b[s[0]], b[s[1]] = b[s[1]], b[s[0]]
	}
	return string(b)
}

// DecodeBvid converts a bvid back to its numeric id.
func DecodeBvid(bvid string) (int64, error) {
	if len(bvid) != 12 || !strings.HasPrefix(bvid, "BV") {
		return 0, fmt.Errorf("malformed bvid %q", bvid)
	}
	b := []byte(bvid)
	for _, s := range bvSwaps {
		b[s[0]], b[s[1]] = b[s[1]], b[s[0]]
	}
	var tmp int64
	for i := 3; i < len(b); i++ {
		v, ok := bvIndex[b[i]]
		if !ok {
			return 0, fmt.Errorf("bvid %q contains invalid character %q", bvid, b[i])
		}
		tmp = tmp*58 + v
	}
	return (tmp & maskCode) ^ xorCode, nil
}
