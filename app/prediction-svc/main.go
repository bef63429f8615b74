package main

import (
	"context"
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OpenTransitTools/transitpredict/app/prediction-svc/predictionsvc"
	"github.com/OpenTransitTools/transitpredict/business/accuracy"
	"github.com/OpenTransitTools/transitpredict/business/estimator"
	"github.com/OpenTransitTools/transitpredict/foundation/database"
	"github.com/ardanlabs/conf"
	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "PREDICTION_SVC : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {
	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			User           string        `conf:"default:postgres"`
			Password       string        `conf:"default:postgres,noprint"`
			Host           string        `conf:"default:0.0.0.0"`
			Name           string        `conf:"default:postgres"`
			DisableTLS     bool          `conf:"default:true"`
			MaxOpenConns   int           `conf:"default:10"`
			ConnectTimeout time.Duration `conf:"default:1m"`
		}
		NATS struct {
			URL                     string        `conf:"default:nats://localhost:4222"`
			ConnectTimeout          time.Duration `conf:"default:1m"`
			ObservationSubject      string        `conf:"default:vehicle-observations"`
			ObservationQueue        string        `conf:"default:prediction-generator"`
			ArrivalDepartureSubject string        `conf:"default:arrival-departures"`
			PredictionSubject       string        `conf:"default:predictions"`
			MaxBatchSize            int           `conf:"default:50"`
		}
		Redis struct {
			// Addr leave empty to keep kalman filter errors in process memory
			Addr     string
			Password string `conf:"noprint"`
			DB       int    `conf:"default:0"`
		}
		Web struct {
			Port int `conf:"default:8080"`
		}
		Agency struct {
			TimeZone string `conf:"default:America/Los_Angeles"`
		}
		Prediction struct {
			MaxPerStop          int           `conf:"default:5"`
			ChainOrder          string        `conf:"default:kalman,average,lastvehicle"`
			DwellChainOrder     string        `conf:"default:headway,averagedwell"`
			MaxParallel         int           `conf:"default:8"`
			MaxHorizon          time.Duration `conf:"default:0s"`
			VehicleTimeout      time.Duration `conf:"default:10m"`
			MaintenanceInterval time.Duration `conf:"default:30s"`
		}
		Kalman struct {
			MinDays                  int           `conf:"default:3"`
			MaxDays                  int           `conf:"default:3"`
			MaxLookbackDays          int           `conf:"default:21"`
			InitialError             float64       `conf:"default:100"`
			ClosestVehicleStopsAhead int           `conf:"default:0"`
			ErrorBucketSeconds       int           `conf:"default:900"`
			ErrorStoreSize           int           `conf:"default:100000"`
			ErrorExpiry              time.Duration `conf:"default:72h"`
			AverageMinDays           int           `conf:"default:1"`
		}
		Dwell struct {
			MinSamples int           `conf:"default:2"`
			MaxSamples int           `conf:"default:5"`
			MaxDwell   time.Duration `conf:"default:5m"`
		}
		History struct {
			MaxAgeDays           int           `conf:"default:4"`
			LoadDays             int           `conf:"default:1"`
			OutlierMaxFraction   float64       `conf:"default:0.5"`
			OutlierMaxTravelTime time.Duration `conf:"default:1h"`
		}
		Accuracy struct {
			PollInterval        time.Duration `conf:"default:4m"`
			MaxHorizon          time.Duration `conf:"default:15m"`
			MaxStaleness        time.Duration `conf:"default:15m"`
			StopsPerTrip        int           `conf:"default:5"`
			MaxRandomSelections int           `conf:"default:100"`
			MaxEarly            time.Duration `conf:"default:15m"`
			MaxLate             time.Duration `conf:"default:25m"`
			RecordToDatabase    bool          `conf:"default:true"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Generate arrival and departure predictions from vehicle observations"
	const prefix = "PREDICTION"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			printUsage(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	// =========================================================================
	// Start Database

	log.Println("main: Initializing database support")

	db, err := database.Open(log, database.Config{
		User:           cfg.DB.User,
		Password:       cfg.DB.Password,
		Host:           cfg.DB.Host,
		Name:           cfg.DB.Name,
		DisableTLS:     cfg.DB.DisableTLS,
		MaxOpenConns:   cfg.DB.MaxOpenConns,
		ConnectTimeout: cfg.DB.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		err = db.Close()
		if err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	// =========================================================================
	// Start NATS

	natsConn, err := connectNats(log, cfg.NATS.URL, cfg.NATS.ConnectTimeout)
	if err != nil {
		return err
	}
	defer func() {
		log.Printf("main: NATS Draining : %s", cfg.NATS.URL)
		if err := natsConn.Drain(); err != nil {
			log.Printf("main: error draining nats connection: %v", err)
		}
	}()

	// =========================================================================
	// Start Redis

	var redisClient *redis.Client
	if len(cfg.Redis.Addr) > 0 {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("main: error closing redis client: %v", err)
			}
		}()
	}

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	return predictionsvc.StartServices(log, db, natsConn, redisClient, shutdown, predictionsvc.Conf{
		HttpPort:                cfg.Web.Port,
		TimeZone:                cfg.Agency.TimeZone,
		ObservationSubject:      cfg.NATS.ObservationSubject,
		ObservationQueue:        cfg.NATS.ObservationQueue,
		ArrivalDepartureSubject: cfg.NATS.ArrivalDepartureSubject,
		PredictionSubject:       cfg.NATS.PredictionSubject,
		MaxBatchSize:            cfg.NATS.MaxBatchSize,
		MaxPredictionsPerStop:   cfg.Prediction.MaxPerStop,
		ChainOrder:              cfg.Prediction.ChainOrder,
		DwellChainOrder:         cfg.Prediction.DwellChainOrder,
		MaxParallel:             cfg.Prediction.MaxParallel,
		MaxHorizon:              cfg.Prediction.MaxHorizon,
		VehicleTimeout:          cfg.Prediction.VehicleTimeout,
		MaintenanceInterval:     cfg.Prediction.MaintenanceInterval,
		Kalman: estimator.KalmanConfig{
			MinDays:                  cfg.Kalman.MinDays,
			MaxDays:                  cfg.Kalman.MaxDays,
			MaxLookbackDays:          cfg.Kalman.MaxLookbackDays,
			InitialError:             cfg.Kalman.InitialError,
			ClosestVehicleStopsAhead: cfg.Kalman.ClosestVehicleStopsAhead,
			ErrorBucketSeconds:       cfg.Kalman.ErrorBucketSeconds,
		},
		ErrorStoreSize:       cfg.Kalman.ErrorStoreSize,
		ErrorExpiry:          cfg.Kalman.ErrorExpiry,
		AverageMinDays:       cfg.Kalman.AverageMinDays,
		Dwell: estimator.DwellConfig{
			MinSamples: cfg.Dwell.MinSamples,
			MaxSamples: cfg.Dwell.MaxSamples,
			MaxDwell:   cfg.Dwell.MaxDwell,
		},
		HistoryMaxAge:        time.Duration(cfg.History.MaxAgeDays) * 24 * time.Hour,
		HistoryLoadDays:      cfg.History.LoadDays,
		OutlierMaxFraction:   cfg.History.OutlierMaxFraction,
		OutlierMaxTravelTime: cfg.History.OutlierMaxTravelTime,
		Accuracy: accuracy.Config{
			PollInterval:        cfg.Accuracy.PollInterval,
			MaxHorizon:          cfg.Accuracy.MaxHorizon,
			MaxStaleness:        cfg.Accuracy.MaxStaleness,
			StopsPerTrip:        cfg.Accuracy.StopsPerTrip,
			MaxRandomSelections: cfg.Accuracy.MaxRandomSelections,
			MaxEarly:            cfg.Accuracy.MaxEarly,
			MaxLate:             cfg.Accuracy.MaxLate,
		},
		RecordToDatabase: cfg.Accuracy.RecordToDatabase,
	})
}

// connectNats connects to url, retrying with exponential backoff for up to timeout
func connectNats(log *logger.Logger, url string, timeout time.Duration) (*nats.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout

	var natsConn *nats.Conn
	err := backoff.RetryNotify(func() error {
		var err error
		natsConn, err = nats.Connect(url)
		return err
	}, b, func(err error, d time.Duration) {
		log.Printf("main: unable to connect to nats at %s, retrying in %v. error: %v", url, d, err)
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return natsConn, nil
}

func printUsage(confUsage string) {
	fmt.Println(confUsage)
}
