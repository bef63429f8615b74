package predictionsvc

import (
	"context"
	"encoding/json"
	logger "log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/accuracy"
	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/foundation/database"
	"github.com/OpenTransitTools/transitpredict/foundation/timesource"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
)

// predictionReader reads the cached predictions for a stop, predictioncache.Cache is the usual implementation.
// Get with limit <= 0 returns every prediction held for key, never more than MaxPredictionsPerStop.
type predictionReader interface {
	Get(key gtfs.RouteStopKey, limit int) []gtfs.Prediction
	MaxPredictionsPerStop() int
}

// routeNameResolver turns a route id or name into the name predictions are kept under, gtfs.RouteNames is the
// usual implementation
type routeNameResolver interface {
	RouteName(routeIdOrName string) string
	RouteNameList() []string
}

// statusChecker reports whether the service's dependencies are reachable
type statusChecker func(ctx context.Context) error

// makeStatusChecker checks the database with database.StatusCheck, a nil db is always healthy
func makeStatusChecker(db *sqlx.DB) statusChecker {
	return func(ctx context.Context) error {
		if db == nil {
			return nil
		}
		return database.StatusCheck(ctx, db)
	}
}

// accuracyReporter summarizes prediction accuracy, accuracy.Tracker is the usual implementation
type accuracyReporter interface {
	Stats() accuracy.Stats
}

// defaultHttpHandler simple default http handler for default route, reporting the status check result
type defaultHttpHandler struct {
	log   *logger.Logger
	check statusChecker
}

// ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.check(ctx); err != nil {
		h.log.Printf("status check failed: %v", err)
		w.Header().Add("Application-Status", "UNAVAILABLE")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Add("Application-Status", "OK")
}

// JsonStopPrediction is a single prediction in a JsonPredictionsResponse
type JsonStopPrediction struct {
	VehicleId     string `json:"vehicle_id"`
	TripId        string `json:"trip_id"`
	PredictedTime int64  `json:"predicted_time"`
	IsArrival     bool   `json:"is_arrival"`
	SchedBased    bool   `json:"sched_based"`
}

// JsonPredictionsResponse is the response to a predictions request
type JsonPredictionsResponse struct {
	Timestamp   int64                `json:"timestamp"`
	Route       string               `json:"route"`
	StopId      string               `json:"stop_id"`
	Predictions []JsonStopPrediction `json:"predictions"`
}

// predictionsHandler responds with the predictions for a route and stop.
// The optional max query parameter must be at least 1 and is capped at the predictions kept per stop,
// without it every prediction held for the stop is returned.
type predictionsHandler struct {
	log         *logger.Logger
	predictions predictionReader
	routeNames  routeNameResolver
	clock       timesource.Source
}

func makePredictionsHandler(log *logger.Logger,
	predictions predictionReader,
	routeNames routeNameResolver,
	clock timesource.Source) *predictionsHandler {
	return &predictionsHandler{
		log:         log,
		predictions: predictions,
		routeNames:  routeNames,
		clock:       clock,
	}
}

// ServeHTTP implements predictionsHandler's http.Handler interface
func (p *predictionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	limit := p.predictions.MaxPredictionsPerStop()
	if maxValue := r.FormValue("max"); len(maxValue) > 0 {
		parsed, err := strconv.Atoi(maxValue)
		if err != nil || parsed < 1 {
			http.Error(w, "max must be a positive number", http.StatusBadRequest)
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	routeName := p.routeNames.RouteName(vars["route"])
	key := gtfs.RouteStopKey{RouteName: routeName, StopId: vars["stop"]}
	predictions := p.predictions.Get(key, limit)

	response := JsonPredictionsResponse{
		Timestamp:   p.clock.Now().Unix(),
		Route:       routeName,
		StopId:      key.StopId,
		Predictions: make([]JsonStopPrediction, 0, len(predictions)),
	}
	for _, prediction := range predictions {
		response.Predictions = append(response.Predictions, JsonStopPrediction{
			VehicleId:     prediction.VehicleId,
			TripId:        prediction.TripId,
			PredictedTime: prediction.PredictedTime.Unix(),
			IsArrival:     prediction.IsArrival,
			SchedBased:    prediction.SchedBased,
		})
	}
	writeJSON(p.log, w, response)
}

// routesHandler responds with the known route names
type routesHandler struct {
	log        *logger.Logger
	routeNames routeNameResolver
}

// ServeHTTP implements routesHandler's http.Handler interface
func (rh *routesHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(rh.log, w, rh.routeNames.RouteNameList())
}

// accuracyHandler responds with the aggregate accuracy statistics
type accuracyHandler struct {
	log      *logger.Logger
	reporter accuracyReporter
}

// ServeHTTP implements accuracyHandler's http.Handler interface
func (a *accuracyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(a.log, w, a.reporter.Stats())
}

// writeJSON marshals value as the json response
func writeJSON(log *logger.Logger, w http.ResponseWriter, value interface{}) {
	jsonData, err := json.Marshal(value)
	if err != nil {
		log.Printf("Error marshaling response to json: error:%v\n", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = w.Write(jsonData); err != nil {
		log.Printf("Error writing json response: %s", err)
	}
}

// makeRouter builds the routes served
func makeRouter(log *logger.Logger,
	check statusChecker,
	predictions predictionReader,
	routeNames routeNameResolver,
	reporter accuracyReporter,
	clock timesource.Source) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{log: log, check: check})
	r.Handle("/predictions/{route}/{stop}", makePredictionsHandler(log, predictions, routeNames, clock)).Methods(http.MethodGet)
	r.Handle("/routes", &routesHandler{log: log, routeNames: routeNames}).Methods(http.MethodGet)
	r.Handle("/accuracy", &accuracyHandler{log: log, reporter: reporter}).Methods(http.MethodGet)
	return r
}

// createServer creates configured http.Server for responding to prediction requests
func createServer(log *logger.Logger,
	check statusChecker,
	predictions predictionReader,
	routeNames routeNameResolver,
	reporter accuracyReporter,
	clock timesource.Source,
	httpPort int) *http.Server {
	srv := &http.Server{
		Addr: strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		// Good practice to set timeouts to avoid Slowloris attacks.
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      makeRouter(log, check, predictions, routeNames, reporter, clock),
	}
	return srv
}

// runWebService starts up the prediction web service, and terminates on shutdown signal.
// The caller adds to wg before starting it, runWebService calls wg.Done when the server has shut down.
func runWebService(log *logger.Logger,
	wg *sync.WaitGroup,
	check statusChecker,
	predictions predictionReader,
	routeNames routeNameResolver,
	reporter accuracyReporter,
	clock timesource.Source,
	httpPort int,
	shutdownSignal chan bool) {
	defer wg.Done()
	srv := createServer(log, check, predictions, routeNames, reporter, clock, httpPort)
	log.Printf("Starting server on port %d", httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("server ListenAndServe ended. %s", err)
		}
	}()

	<-shutdownSignal
	log.Printf("ending webservice on shutdown signal")
	shutdownCtx, serverCancelFunc := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
	defer serverCancelFunc()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down webservice, error:%s", err)
	}
}
