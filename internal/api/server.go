package api

import (
	"context"
	"os"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"lastmile/internal/auth"
	"lastmile/internal/config"
	"lastmile/internal/consistency"
	"lastmile/internal/field"
	"lastmile/internal/geocode"
	"lastmile/internal/metrics"
	"lastmile/internal/model"
	"lastmile/internal/notify"
	"lastmile/internal/route"
	"lastmile/internal/store"
)

type Server struct {
	Store     store.Store
	Syncer    *consistency.Syncer
	Broker    EventBroker
	Auth      *auth.Verifier
	Gate      *field.Gate
	Locations *LocationCache
	Queue     *notify.Queue
	Route     *route.Engine
	Cfg       config.Config
}

// NewServer wires the service. With no DATABASE_URL the in-memory store is
// used; with no REDIS_URL the in-process broker is used.
func NewServer(cfg config.Config) (*Server, error) {
	var s store.Store
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		if os.Getenv("DB_MIGRATE") != "false" {
			_ = sp.MigrateDir("db/migrations")
		}
		s = sp
	}

	var broker EventBroker
	if url := os.Getenv("REDIS_URL"); url != "" {
		if rb, err := NewRedisBroker(url); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	resolver := &geocode.Resolver{
		Local:   geocode.NewMemoryKV(),
		Default: model.GeoPoint{Lat: cfg.Geocode.DefaultLat, Lng: cfg.Geocode.DefaultLng},
		TTL:     time.Duration(cfg.Geocode.TTLDays) * 24 * time.Hour,
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		if opt, err := redis.ParseURL(url); err == nil {
			resolver.Shared = geocode.NewRedisKV(redis.NewClient(opt))
		}
	}

	queue := notify.NewQueue()
	syncer := consistency.New(s)
	srv := &Server{
		Store:     s,
		Syncer:    syncer,
		Broker:    broker,
		Auth:      auth.NewVerifierFromEnv(),
		Locations: NewLocationCache(),
		Queue:     queue,
		Route:     &route.Engine{Resolver: resolver},
		Cfg:       cfg,
	}
	srv.Gate = &field.Gate{
		CompletionRadiusM: cfg.Geofence.CompletionRadiusM,
		ProximityRadiusM:  cfg.Geofence.ProximityRadiusM,
		MinTrustScore:     cfg.Trust.MinScore,
		HighValueTrust:    cfg.Trust.HighValueScore,
		HighValueFee:      cfg.Trust.HighValueFee,
		Filer:             syncer,
	}
	syncer.Emit = &fanout{broker: broker, webhooks: notify.NewPublisher(queue)}
	return srv, nil
}

// NewNotifyWorker creates the background webhook delivery worker.
func (s *Server) NewNotifyWorker() *notify.Worker {
	return notify.NewWorker(s.Queue)
}

// fanout satisfies consistency.Emitter by publishing to the realtime broker
// and enqueueing webhooks.
type fanout struct {
	broker   EventBroker
	webhooks *notify.Publisher
}

func (f *fanout) ParcelChanged(ctx context.Context, p model.Parcel, op string) {
	metrics.RealtimeEvents.WithLabelValues(op).Inc()
	if p.CourierID != "" {
		f.broker.Publish(p.CourierID, model.ChangeEvent{
			Op:         op,
			TrackingNo: p.TrackingNo,
			CourierID:  p.CourierID,
			Status:     p.Status,
			TS:         time.Now().UTC().Format(time.RFC3339),
		})
	}
	f.webhooks.ParcelChanged(ctx, p, op)
}
