package bili

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestJarHostSuffixScoping(t *testing.T) {
	jar := NewJar()
	jar.SetCookies(mustURL(t, "https://www.bilibili.com/"), []*http.Cookie{
		{Name: "SESSDATA", Value: "secret", Domain: ".bilibili.com"},
	})

	api := jar.Cookies(mustURL(t, "https://api.bilibili.com/x/web-interface/nav"))
	require.Len(t, api, 1)
	assert.Equal(t, "SESSDATA", api[0].Name)
	assert.Equal(t, "secret", api[0].Value)

	// Same suffix string, different registrable domain.
	other := jar.Cookies(mustURL(t, "https://notbilibili.com/"))
	assert.Empty(t, other)
}

func TestJarSetCookiesWithoutDomainUsesHost(t *testing.T) {
	jar := NewJar()
	jar.SetCookies(mustURL(t, "https://passport.bilibili.com/login"), []*http.Cookie{
		{Name: "refresh", Value: "tok"},
	})

	assert.Len(t, jar.Cookies(mustURL(t, "https://passport.bilibili.com/")), 1)
	assert.Empty(t, jar.Cookies(mustURL(t, "https://api.bilibili.com/")))
}

func TestJarDeleteOnNegativeMaxAge(t *testing.T) {
	jar := NewJar()
	u := mustURL(t, "https://www.bilibili.com/")
	jar.SetCookies(u, []*http.Cookie{{Name: "a", Value: "1", Domain: "bilibili.com"}})
	require.Equal(t, 1, jar.Len())

	jar.SetCookies(u, []*http.Cookie{{Name: "a", Domain: "bilibili.com", MaxAge: -1}})
	assert.Equal(t, 0, jar.Len())
}

func TestJarExportImportRoundTrip(t *testing.T) {
	jar := NewJar()
	jar.Set(CookieRecord{Name: "SESSDATA", Value: "v1", Domain: "bilibili.com", Path: "/"})
	jar.Set(CookieRecord{Name: "bili_jct", Value: "v2", Domain: "bilibili.com", Path: "/"})

	var buf bytes.Buffer
	require.NoError(t, jar.Export(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "{"), "each line is one JSON object")
	}

	restored := NewJar()
	require.NoError(t, restored.Import(&buf))
	assert.Equal(t, 2, restored.Len())
	assert.Equal(t, "v1", restored.Get("SESSDATA"))
	assert.Equal(t, "v2", restored.Get("bili_jct"))
}

func TestJarImportSkipsBlankLines(t *testing.T) {
	input := `{"name":"a","value":"1","domain":"bilibili.com","path":"/"}

{"name":"b","value":"2","domain":"bilibili.com","path":"/"}
`
	jar := NewJar()
	require.NoError(t, jar.Import(strings.NewReader(input)))
	assert.Equal(t, 2, jar.Len())
}

func TestJarImportRejectsMalformedLine(t *testing.T) {
	jar := NewJar()
	err := jar.Import(strings.NewReader("not-json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}
