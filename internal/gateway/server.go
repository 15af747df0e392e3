package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tourbase/tourbase/internal/domain"
)

const maxBodyBytes = 1 << 20 // 1 MiB на запрос действия достаточно с запасом

// Server — HTTP-обвязка вокруг Core: разбор маршрута и заголовков,
// сериализация конверта. Никакой доменной логики здесь нет.
type Server struct {
	core   *Core
	logger *zap.Logger
}

func NewServer(core *Core, logger *zap.Logger) *Server {
	return &Server{core: core, logger: logger.Named("http")}
}

// Routes монтирует единственную точку входа агентов. Любая пара
// {resource}/{verb} принимается маршрутизатором: неизвестные действия
// отсекает Policy Engine своим default deny, а не 404 роутера — агент
// получает машинный код вместо голого текста.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(TracingMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})

	r.Post("/api/agent/tools/{resource}/{verb}", s.handleAction)
	return r
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	action := domain.JoinAction(chi.URLParam(r, "resource"), chi.URLParam(r, "verb"))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeResult(w, errorResult(
			newError(http.StatusBadRequest, CodeInvalidInput, "request body unreadable or too large"),
			"", action))
		return
	}

	res := s.core.Process(
		r.Context(),
		bearerKey(r),
		action,
		r.Header.Get("Idempotency-Key"),
		body,
	)
	s.writeResult(w, res)
}

func bearerKey(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return h // verifier сам отклонит любой неформатный ключ
}

func (s *Server) writeResult(w http.ResponseWriter, res *Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.Status)
	if err := json.NewEncoder(w).Encode(res.Envelope); err != nil {
		s.logger.Error("response encode failed", zap.Error(err))
	}
}
