// Package predictionsvc runs the prediction service: it takes vehicle observations and arrival/departure
// events from NATS, keeps per-stop predictions current, scores their accuracy and serves them over http.
package predictionsvc

import (
	"context"
	"fmt"
	logger "log"
	"os"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/accuracy"
	"github.com/OpenTransitTools/transitpredict/business/arrivalstore"
	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/business/errorstore"
	"github.com/OpenTransitTools/transitpredict/business/estimator"
	"github.com/OpenTransitTools/transitpredict/business/historical"
	"github.com/OpenTransitTools/transitpredict/business/predictioncache"
	"github.com/OpenTransitTools/transitpredict/business/predictor"
	"github.com/OpenTransitTools/transitpredict/foundation/periodic"
	"github.com/OpenTransitTools/transitpredict/foundation/timesource"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Conf holds the settings StartServices needs
type Conf struct {
	HttpPort int
	TimeZone string

	ObservationSubject      string
	ObservationQueue        string
	ArrivalDepartureSubject string
	PredictionSubject       string
	MaxBatchSize            int

	MaxPredictionsPerStop int
	ChainOrder            string
	DwellChainOrder       string
	MaxParallel           int
	MaxHorizon            time.Duration
	// VehicleTimeout removes vehicles not observed for this long
	VehicleTimeout      time.Duration
	MaintenanceInterval time.Duration

	Kalman         estimator.KalmanConfig
	ErrorStoreSize int
	ErrorExpiry    time.Duration
	AverageMinDays int
	Dwell          estimator.DwellConfig

	HistoryMaxAge        time.Duration
	HistoryLoadDays      int
	OutlierMaxFraction   float64
	OutlierMaxTravelTime time.Duration

	Accuracy         accuracy.Config
	RecordToDatabase bool
}

// StartServices builds prediction components, brings up the listeners, web service and background tasks, then
// waits for shutdownSignal. redisClient may be nil, in which case Kalman filter errors are kept in memory.
func StartServices(log *logger.Logger,
	db *sqlx.DB,
	natsConn *nats.Conn,
	redisClient *redis.Client,
	shutdownSignal chan os.Signal,
	conf Conf) error {

	clock := timesource.System{}
	location, err := time.LoadLocation(conf.TimeZone)
	if err != nil {
		return fmt.Errorf("loading agency time zone %q: %w", conf.TimeZone, err)
	}

	// schedule
	routeNames := gtfs.MakeRouteNames(nil)
	schedule := makeScheduleSource(log, dbTripPatternLoader(db), location, clock, routeNames)
	if _, err = schedule.TripPatterns(context.Background()); err != nil {
		return err
	}

	// arrival history
	arrivals := arrivalstore.MakeStore(log, location, conf.HistoryMaxAge)
	if conf.HistoryLoadDays > 0 {
		now := clock.Now()
		loaded, err := arrivals.LoadFromDatabase(context.Background(), db,
			now.AddDate(0, 0, -conf.HistoryLoadDays), now)
		if err != nil {
			return fmt.Errorf("priming arrival history: %w", err)
		}
		log.Printf("loaded %d arrival departure events from the last %d days", loaded, conf.HistoryLoadDays)
	}
	library := historical.MakeLibrary(log, arrivals, gtfs.MakeServiceDayClassifier(),
		historical.DeviationFilter{
			MaxFraction:   conf.OutlierMaxFraction,
			MaxTravelTime: conf.OutlierMaxTravelTime,
		}, location)

	// estimators
	var errorStore errorstore.Store
	if redisClient != nil {
		log.Printf("keeping kalman filter errors in redis")
		errorStore = errorstore.MakeRedisStore(redisClient, conf.ErrorExpiry)
	} else {
		errorStore = errorstore.MakeMemoryStore(conf.ErrorStoreSize, conf.ErrorExpiry)
	}
	vehicles := estimator.MakeVehicleRegistry()
	kalman, err := estimator.MakeKalmanEstimator(log, conf.Kalman, library, vehicles, errorStore, clock)
	if err != nil {
		return err
	}
	average, err := estimator.MakeAverageEstimator(library, conf.AverageMinDays, conf.Kalman.MaxDays,
		conf.Kalman.MaxLookbackDays)
	if err != nil {
		return err
	}
	registry := estimator.Registry{}
	registry.Register(kalman)
	registry.Register(average)
	registry.Register(estimator.MakeLastVehicleEstimator(library))
	registry.Register(estimator.ScheduleEstimator{})
	chain, err := estimator.ChainFromNames(log, estimator.ParseChainOrder(conf.ChainOrder), registry)
	if err != nil {
		return fmt.Errorf("building estimator chain from %q: %w", conf.ChainOrder, err)
	}
	log.Printf("estimating travel times with %v", chain.Names())

	headwayDwell, err := estimator.MakeHeadwayDwellEstimator(conf.Dwell, library)
	if err != nil {
		return err
	}
	averageDwell, err := estimator.MakeAverageDwellEstimator(conf.Dwell, library)
	if err != nil {
		return err
	}
	dwellRegistry := estimator.DwellRegistry{}
	dwellRegistry.Register(headwayDwell)
	dwellRegistry.Register(averageDwell)
	dwellChain, err := estimator.DwellChainFromNames(log, estimator.ParseChainOrder(conf.DwellChainOrder), dwellRegistry)
	if err != nil {
		return fmt.Errorf("building dwell chain from %q: %w", conf.DwellChainOrder, err)
	}
	log.Printf("estimating dwell times with %v", dwellChain.Names())

	// predictions
	cache, err := predictioncache.MakeCache(predictioncache.Config{MaxPredictionsPerStop: conf.MaxPredictionsPerStop}, clock)
	if err != nil {
		return err
	}
	publisher := makePredictionPublisher(&natsPredictionPublicationDestination{
		natsConn:          natsConn,
		predictionSubject: conf.PredictionSubject,
	})
	generator, err := predictor.MakeGenerator(log, predictor.Config{
		MaxParallel: conf.MaxParallel,
		MaxHorizon:  conf.MaxHorizon,
		Location:    location,
	}, chain, dwellChain, cache, vehicles, routeNames, publisher)
	if err != nil {
		return err
	}

	// accuracy
	recorders := accuracy.Recorders{accuracy.MakeLogRecorder(log)}
	if conf.RecordToDatabase {
		recorders = append(recorders, accuracy.MakeDBRecorder(db))
	}
	tracker, err := accuracy.MakeTracker(log, conf.Accuracy, accuracy.CacheSource{Cache: cache}, schedule,
		recorders, clock, clock.Now().UnixNano())
	if err != nil {
		return err
	}

	wg := sync.WaitGroup{}

	//create shutdown channels
	observationListenerShutdown := make(chan bool, 1)
	eventListenerShutdown := make(chan bool, 1)
	webServiceShutdown := make(chan bool, 1)

	//start all child services
	err = runObservationListener(log, &wg, natsConn, conf.ObservationSubject, conf.ObservationQueue, generator,
		conf.MaxBatchSize, observationListenerShutdown)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", conf.ObservationSubject, err)
	}
	err = runArrivalDepartureListener(log, &wg, natsConn, conf.ArrivalDepartureSubject,
		makeEventProcessor(log, arrivals, tracker, db, conf.RecordToDatabase), eventListenerShutdown)
	if err != nil {
		observationListenerShutdown <- true
		wg.Wait()
		return fmt.Errorf("subscribing to %s: %w", conf.ArrivalDepartureSubject, err)
	}
	wg.Add(1)
	go runWebService(log, &wg, makeStatusChecker(db), cache, routeNames, tracker, clock, conf.HttpPort,
		webServiceShutdown)

	maintenance := periodic.MakeTask(log, "maintenance", conf.MaintenanceInterval, func() {
		runMaintenance(log, clock.Now(), conf.VehicleTimeout, cache, arrivals, generator, vehicles)
	})
	maintenance.Start(&wg)
	tracker.Start(&wg)

	<-shutdownSignal
	log.Printf("Exiting on shutdown signal, shutting down subroutines")
	observationListenerShutdown <- true
	eventListenerShutdown <- true
	webServiceShutdown <- true
	maintenance.Stop()
	tracker.Stop()
	wg.Wait()
	log.Printf("Subroutines shut down, exiting prediction service")
	return nil
}

// runMaintenance expires old predictions, arrival history and vehicles that have stopped reporting
func runMaintenance(log *logger.Logger,
	now time.Time,
	vehicleTimeout time.Duration,
	cache *predictioncache.Cache,
	arrivals *arrivalstore.Store,
	generator *predictor.Generator,
	vehicles *estimator.VehicleRegistry) {
	removedPredictions, keys := cache.Sweep()
	expiredDays := arrivals.Expire(now)
	removedVehicles := 0
	if vehicleTimeout > 0 {
		cutoff := now.Add(-vehicleTimeout)
		removedVehicles = len(generator.RemoveVehiclesBefore(cutoff, now))
		vehicles.Expire(cutoff)
	}
	stopDays, trips := arrivals.Size()
	log.Printf("Prediction cache has %d stops, removed %d expired predictions. Removed %d vehicles, %d tracked. "+
		"Arrival history has %d stop days, %d trips, expired %d.",
		keys, removedPredictions, removedVehicles, generator.VehicleCount(), stopDays, trips, expiredDays)
}
