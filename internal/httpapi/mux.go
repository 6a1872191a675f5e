package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blueconnect-gateway/internal/state"
	"blueconnect-gateway/internal/store"
)

func NewMux(db *sql.DB, agg *state.Aggregator) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db)
	mux.Handle("GET /metrics", promhttp.Handler())
	deviceController := NewDeviceController(agg, store.NewRepository(db))
	deviceController.RegisterRoutes(mux)
	return mux
}
