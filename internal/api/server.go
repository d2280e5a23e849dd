package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ContentFlow/internal/agent"
	"ContentFlow/internal/auth"
	xerrors "ContentFlow/internal/errors"
	"ContentFlow/internal/observability/metrics"
	"ContentFlow/internal/progress"
	"ContentFlow/internal/session"
	"ContentFlow/internal/tools"
	"ContentFlow/pkg/logger"
)

// maxBodyBytes 限制请求体大小。
const maxBodyBytes = 1 << 20

// Orchestrator 是处理请求的编排器。
type Orchestrator interface {
	Handle(ctx context.Context, req agent.Request, sink progress.Sink) (*agent.Response, error)
}

// Catalog 列出可用工具。
type Catalog interface {
	ListTools() []tools.Spec
}

// Server 负责暴露 REST 与 SSE 接口，供外部提交请求。
type Server struct {
	addr     string
	agent    Orchestrator
	catalog  Catalog
	sessions session.Store
	auth     *auth.Authenticator
}

// NewServer 构造 API 服务实例。authenticator 为空时按请求头识别调用方。
func NewServer(addr string, ag Orchestrator, catalog Catalog, sessions session.Store, authenticator *auth.Authenticator) *Server {
	if authenticator == nil {
		authenticator = auth.NewAuthenticator(auth.Config{})
	}
	return &Server{addr: addr, agent: ag, catalog: catalog, sessions: sessions, auth: authenticator}
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	protected := s.auth.Middleware
	mux := http.NewServeMux()
	mux.Handle("/api/v1/requests", observe("requests", protected("submit_request")(http.HandlerFunc(s.handleRequests))))
	mux.Handle("/api/v1/sessions/", observe("sessions", protected("get_session")(http.HandlerFunc(s.handleSession))))
	mux.Handle("/api/v1/tools", observe("tools", protected("list_tools")(http.HandlerFunc(s.handleTools))))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.L().Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// submitRequest 是 POST /api/v1/requests 的请求体。
type submitRequest struct {
	Query       string            `json:"query"`
	SessionID   string            `json:"sessionId,omitempty"`
	ProjectID   string            `json:"projectId,omitempty"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.agent == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}

	var body submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		http.Error(w, "query 不能为空", http.StatusBadRequest)
		return
	}

	req := agent.Request{
		SessionID:   body.SessionID,
		ProjectID:   body.ProjectID,
		Query:       body.Query,
		Credentials: body.Credentials,
	}
	if subject := auth.SubjectFromContext(r.Context()); subject != nil {
		req.UserID = subject.UserID
		if subject.ProjectID != "" {
			req.ProjectID = subject.ProjectID
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// 错误已作为 error 事件写入流中。
	_, _ = s.agent.Handle(r.Context(), req, progress.NewSSEWriter(w))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "缺少会话 ID", http.StatusBadRequest)
		return
	}
	if s.sessions == nil {
		http.Error(w, "会话存储未初始化", http.StatusServiceUnavailable)
		return
	}

	sc, err := s.sessions.Load(r.Context(), id)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			http.Error(w, "会话不存在", http.StatusNotFound)
			return
		}
		logger.With(r.Context(), logger.L()).Error("读取会话失败", slog.String("session_id", id), slog.Any("error", err))
		http.Error(w, xerrors.PublicMessage(err), http.StatusInternalServerError)
		return
	}
	if subject := auth.SubjectFromContext(r.Context()); subject != nil && sc.UserID != "" && subject.UserID != "" && sc.UserID != subject.UserID {
		http.Error(w, "会话不存在", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	specs := []tools.Spec{}
	if s.catalog != nil {
		specs = append(specs, s.catalog.ListTools()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": specs})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// observe 记录每个路由的请求量与耗时。
func observe(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
