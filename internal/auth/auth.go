package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

const (
	// HeaderUserID 在未启用认证时标识调用方。
	HeaderUserID = "X-User-ID"
	// HeaderProjectID 指定请求针对的项目。
	HeaderProjectID = "X-Project-ID"
)

var (
	// ErrMissingToken 表示请求缺少 Authorization 头。
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken 表示 token 不在配置的列表中。
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Method 表示主体的识别方式。
type Method string

const (
	MethodToken  Method = "token"
	MethodHeader Method = "header"
)

// Subject 是一次请求的调用方身份。
type Subject struct {
	UserID    string
	ProjectID string
	Method    Method
}

func (s *Subject) normalise() {
	if s == nil {
		return
	}
	s.UserID = strings.TrimSpace(s.UserID)
	s.ProjectID = strings.TrimSpace(s.ProjectID)
}

// Config 控制身份识别方式。
type Config struct {
	Enabled bool
	// Tokens 把 bearer token 映射到用户 ID。
	Tokens  map[string]string
}

// Authenticator 根据配置从 HTTP 请求中识别调用方。
type Authenticator struct {
	enabled bool
	tokens  map[string]string
}

// NewAuthenticator 创建 Authenticator。
func NewAuthenticator(cfg Config) *Authenticator {
	tokens := make(map[string]string, len(cfg.Tokens))
	for token, user := range cfg.Tokens {
		if token = strings.TrimSpace(token); token != "" {
			tokens[token] = user
		}
	}
	return &Authenticator{enabled: cfg.Enabled, tokens: tokens}
}

// Enabled 报告是否要求 bearer token。
func (a *Authenticator) Enabled() bool {
	return a != nil && a.enabled
}

// Authenticate 识别调用方。启用认证时用户来自 token，否则来自 X-User-ID 头。
func (a *Authenticator) Authenticate(r *http.Request) (*Subject, error) {
	subject := &Subject{ProjectID: r.Header.Get(HeaderProjectID)}
	if !a.Enabled() {
		subject.UserID = r.Header.Get(HeaderUserID)
		subject.Method = MethodHeader
		subject.normalise()
		return subject, nil
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return nil, ErrMissingToken
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, ErrInvalidToken
	}
	user, ok := a.lookup(strings.TrimSpace(token))
	if !ok {
		return nil, ErrInvalidToken
	}
	subject.UserID = user
	subject.Method = MethodToken
	subject.normalise()
	return subject, nil
}

// lookup 逐个做常量时间比较，避免通过响应时间猜测 token。
func (a *Authenticator) lookup(token string) (string, bool) {
	var (
		user  string
		found bool
	)
	for candidate, u := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			user, found = u, true
		}
	}
	return user, found
}
