package bili

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// CookieRecord is the persisted form of one cookie, one JSON object per line.
type CookieRecord struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// Jar is a host-suffix scoped cookie jar shared by all clients of a session.
// The standard library jar cannot enumerate its cookies, which the session
// store needs for JSONL persistence, so the jar keeps its own table.
type Jar struct {
	mu      sync.Mutex
	cookies map[string]CookieRecord // domain + "\x00" + name
}

// NewJar returns an empty jar.
func NewJar() *Jar {
	return &Jar{cookies: make(map[string]CookieRecord)}
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		domain := strings.TrimPrefix(c.Domain, ".")
		if domain == "" {
			domain = u.Hostname()
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		if c.MaxAge < 0 {
			delete(j.cookies, domain+"\x00"+c.Name)
			continue
		}
		j.cookies[domain+"\x00"+c.Name] = CookieRecord{
			Name:   c.Name,
			Value:  c.Value,
			Domain: domain,
			Path:   path,
		}
	}
}

// Cookies implements http.CookieJar with host-suffix matching: a cookie for
// "bilibili.com" is sent to "api.bilibili.com".
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	host := u.Hostname()

	j.mu.Lock()
	defer j.mu.Unlock()

	var out []*http.Cookie
	for _, rec := range j.cookies {
		if !domainMatch(host, rec.Domain) {
			continue
		}
		out = append(out, &http.Cookie{Name: rec.Name, Value: rec.Value})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Set stores one cookie directly, used when importing records.
func (j *Jar) Set(rec CookieRecord) {
	if rec.Name == "" {
		return
	}
	if rec.Path == "" {
		rec.Path = "/"
	}
	rec.Domain = strings.TrimPrefix(rec.Domain, ".")
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies[rec.Domain+"\x00"+rec.Name] = rec
}

// Get returns the value of the named cookie for any domain, or "".
func (j *Jar) Get(name string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, rec := range j.cookies {
		if rec.Name == name {
			return rec.Value
		}
	}
	return ""
}

// Len reports the number of stored cookies.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.cookies)
}

// Export writes the jar as JSONL, one cookie record per line, in a stable
// order. The snapshot is taken atomically under the jar lock.
func (j *Jar) Export(w io.Writer) error {
	j.mu.Lock()
	records := make([]CookieRecord, 0, len(j.cookies))
	for _, rec := range j.cookies {
		records = append(records, rec)
	}
	j.mu.Unlock()

	sort.Slice(records, func(a, b int) bool {
		if records[a].Domain != records[b].Domain {
			return records[a].Domain < records[b].Domain
		}
		return records[a].Name < records[b].Name
	})

	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal cookie %q: %w", rec.Name, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write cookie record: %w", err)
		}
	}
	return nil
}

// Import reads JSONL cookie records and merges them into the jar.
func (j *Jar) Import(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec CookieRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return fmt.Errorf("parse cookie record on line %d: %w", line, err)
		}
		j.Set(rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read cookie records: %w", err)
	}
	return nil
}

func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}
