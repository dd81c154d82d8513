package cmd

import (
	"context"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/config"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/cache"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/httpclient"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/logger"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/postgres"
	appredis "github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/redis"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/redislock"

	goValidator "github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type AppDependency struct {
	db         *postgres.DB
	cfg        *config.Config
	log        *logger.Logger
	validator  *goValidator.Validate
	echo       *echo.Echo
	cache      cache.Cache
	redis      *goredis.Client
	locker     redislock.Locker
	httpClient httpclient.HTTPClient
}

func NewAppDependency(ctx context.Context) (*AppDependency, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, err
	}
	log = log.WithAlert(cfg.Alert.WebhookURL, cfg.Alert.MinLevel)

	db, err := postgres.NewDB(cfg.DB, log)
	if err != nil {
		log.Error("Failed to connect to database", zap.Error(err))
		return nil, err
	}

	redisClient, err := appredis.NewClient(cfg.Redis, log)
	if err != nil {
		log.Error("Failed to connect to redis", zap.Error(err))
		return nil, err
	}

	e := echo.New()
	return &AppDependency{
		cfg:        cfg,
		log:        log,
		validator:  goValidator.New(),
		db:         db,
		echo:       e,
		cache:      cache.NewCache(5*time.Minute, 10*time.Minute),
		redis:      redisClient,
		locker:     redislock.New(redisClient, cfg.Scheduler.LockKeyPrefix),
		httpClient: httpclient.New(),
	}, nil
}

func (d *AppDependency) Close() error {
	d.log.Info("Closing app dependency")
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.log.Error("Failed to close redis client", zap.Error(err))
		}
	}
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
