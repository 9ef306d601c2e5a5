package resolver

// RedirectError surfaces a view response that points at a different canonical
// URL. The caller may retry classification once with the new URL.
type RedirectError struct {
	URL string
}

func (e *RedirectError) Error() string {
	return "content redirected to " + e.URL
}

// ParseError reports that a playback response could not be turned into work
// items.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// errNoPlayableStream is the pinned diagnostic for a playurl payload with
// neither dash nor durl.
func errNoPlayableStream() *ParseError {
	return &ParseError{Message: "未解析出播放地址"}
}
