// Package api настраивает HTTP маршруты dashboard.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fundarb/internal/api/handlers"
	"fundarb/internal/api/middleware"
	"fundarb/internal/service"
	"fundarb/internal/websocket"
	"fundarb/pkg/utils"
)

// Dependencies содержит зависимости API handlers
type Dependencies struct {
	Strategy *service.StrategyService
	Journal  handlers.JournalReader
	Hub      *websocket.Hub
	APIToken string
	Logger   *utils.Logger
}

// SetupRoutes настраивает маршруты приложения.
//
// Структура:
//
//	/api/v1/ (Bearer-токен)
//	  ├── GET  /status     - статус планировщика
//	  ├── GET  /results    - результаты последних циклов
//	  ├── POST /cycles     - внеочередной запуск цикла
//	  ├── GET  /positions  - открытые позиции по биржам
//	  ├── GET  /exclusions - исключённые пары
//	  └── GET  /journal    - журнал событий пар
//	/ws/stream - WebSocket для real-time событий
//	/metrics   - Prometheus
//	/health    - проверка живости
//
// Порядок middleware: Recovery -> Logging -> CORS, затем
// TokenAuth только на /api/v1.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.TokenAuth(deps.APIToken))

	if deps.Strategy != nil {
		h := handlers.NewStrategyHandler(deps.Strategy)
		api.HandleFunc("/status", h.GetStatus).Methods("GET")
		api.HandleFunc("/results", h.GetResults).Methods("GET")
		api.HandleFunc("/cycles", h.TriggerCycle).Methods("POST")
		api.HandleFunc("/positions", h.GetPositions).Methods("GET")
		api.HandleFunc("/exclusions", h.GetExclusions).Methods("GET")
	}

	if deps.Journal != nil {
		h := handlers.NewJournalHandler(deps.Journal)
		api.HandleFunc("/journal", h.GetJournal).Methods("GET")
	}

	if deps.Hub != nil {
		router.HandleFunc("/ws/stream", deps.Hub.ServeWS)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
