package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func RegisterRoutes(r *mux.Router, h *Handler) {
	api := r.PathPrefix("/api").Subrouter()

	// узлы
	api.HandleFunc("/node", h.CreateNode).Methods(http.MethodPost)
	api.HandleFunc("/node", h.ListNodes).Methods(http.MethodGet)
	api.HandleFunc("/node/{token:[a-f0-9]{32}}", h.GetNode).Methods(http.MethodGet)
	api.HandleFunc("/node/{token:[a-f0-9]{32}}", h.UpdateNode).Methods(http.MethodPut)
	api.HandleFunc("/node/{token:[a-f0-9]{32}}", h.DeleteNode).Methods(http.MethodDelete)

	// мониторинг
	api.HandleFunc("/monitoring/confirm/{token:[a-f0-9]{32}}", h.ConfirmMonitoring).Methods(http.MethodPut, http.MethodGet)
	api.HandleFunc("/monitoring/disable/{token:[a-f0-9]{32}}", h.DisableMonitoring).Methods(http.MethodPut, http.MethodGet)
	api.HandleFunc("/monitoring/state", h.StateByMACs).Methods(http.MethodPost)

	// очередь писем
	api.HandleFunc("/mail", h.ListMail).Methods(http.MethodGet)
	api.HandleFunc("/mail/{id:[0-9]+}", h.GetMail).Methods(http.MethodGet)
	api.HandleFunc("/mail/{id:[0-9]+}", h.DeleteMail).Methods(http.MethodDelete)
	api.HandleFunc("/mail/{id:[0-9]+}/reset", h.ResetMailFailures).Methods(http.MethodPut)

	// задачи планировщика
	api.HandleFunc("/task", h.ListTasks).Methods(http.MethodGet)
	api.HandleFunc("/task/{id}/run", h.RunTask).Methods(http.MethodPost)
	api.HandleFunc("/task/{id}/enable", h.EnableTask).Methods(http.MethodPut)
	api.HandleFunc("/task/{id}/disable", h.DisableTask).Methods(http.MethodPut)
}
