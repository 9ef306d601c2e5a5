package bili

import (
	"errors"
	"fmt"
)

// Sentinel errors for transport-level outcomes.
var (
	// ErrRateLimited marks an HTTP 401/403/429. Terminal for the operation
	// that hit it; batch callers skip instead of retrying.
	ErrRateLimited = errors.New("rate limited or access refused")

	// ErrRetryLater marks an HTTP 5xx.
	ErrRetryLater = errors.New("upstream temporarily unavailable")
)

// APIError is a platform envelope with a non-zero code.
type APIError struct {
	Code    int64
	Message string
}

func (e *APIError) Error() string {
	if hint := e.Hint(); hint != "" {
		return fmt.Sprintf("api error %d: %s（%s）", e.Code, e.Message, hint)
	}
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// Hint maps the known platform codes to a user-readable explanation.
func (e *APIError) Hint() string {
	switch e.Code {
	case -403:
		return "访问被拒绝：权限不足、需要登录或Cookie已过期"
	case -404:
		return "内容不存在：可能已被删除或URL错误"
	case -10403:
		return "需要大会员权限：请登录大会员账号或选择较低清晰度"
	case -500:
		return "访问受限：可能需要购买课程或特定权限"
	case 6001:
		return "地区限制：此内容在当前地区不可观看"
	case 62002:
		return "内容不可见：可能是私密视频"
	case 62012:
		return "内容审核中，暂时无法访问"
	}
	return ""
}

// InvalidResponseError reports a body that could not be interpreted as the
// expected payload.
type InvalidResponseError struct {
	Message string
}

func (e *InvalidResponseError) Error() string {
	return "invalid response: " + e.Message
}

// HTMLResponseError reports an HTML body where JSON was expected. The
// platform serves challenge or geo-block pages this way.
type HTMLResponseError struct {
	Body string
}

func (e *HTMLResponseError) Error() string {
	return "html response (challenge or block page)"
}

// statusError attaches the HTTP status to a sentinel kind so callers can log
// the raw code while matching with errors.Is.
type statusError struct {
	kind   error
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v (http %d)", e.kind, e.status)
}

func (e *statusError) Unwrap() error { return e.kind }
