package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/config"
	"github.com/warp/billing-engine/gateway"
	"github.com/warp/billing-engine/logging"
	"github.com/warp/billing-engine/metrics"
	"github.com/warp/billing-engine/scheduler"
	"github.com/warp/billing-engine/store/sqlite"
)

// devWebhookSecret signs mock deliveries when no secret is configured.
const devWebhookSecret = "whsec_dev_mock"

// app holds the wired engine shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	loc    *time.Location

	store   *sqlite.Store
	redis   *redis.Client
	metrics *metrics.Collector

	pricing    *billing.PricingResolver
	generator  *billing.InvoiceGenerator
	escalator  *billing.SurchargeEscalator
	sessions   *billing.SessionManager
	reconciler *billing.Reconciler

	mock          *gateway.MockGateway
	webhookSecret string
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newApp(configFile string) (*app, error) {
	cfg, logger, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	defaults, err := cfg.DefaultPrices()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DB.Path, err)
	}

	a := &app{
		cfg:           cfg,
		logger:        logger,
		loc:           loc,
		store:         store,
		metrics:       metrics.New("billing"),
		webhookSecret: cfg.Stripe.WebhookSecret,
	}

	var gw billing.Gateway
	if cfg.UseMockGateway() {
		a.mock = gateway.NewMockGateway(fmt.Sprintf("http://localhost:%d/mock-checkout", cfg.HTTP.Port))
		gw = a.mock
		if a.webhookSecret == "" {
			a.webhookSecret = devWebhookSecret
		}
		logger.Warn("stripe.secret_key not set, using the mock payment gateway")
	} else {
		stripeGW, err := gateway.NewStripe(gateway.StripeConfig{
			SecretKey:   cfg.Stripe.SecretKey,
			Currency:    cfg.Stripe.Currency,
			FrontendURL: cfg.FrontendURL,
		}, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
		gw = stripeGW
		if a.webhookSecret == "" {
			logger.Warn("stripe.webhook_secret not set, every webhook will be rejected")
		}
	}

	a.pricing = billing.NewPricingResolver(store, defaults)

	a.generator = billing.NewInvoiceGenerator(store, a.pricing, logger)
	a.generator.Location = loc

	a.escalator = billing.NewSurchargeEscalator(store, a.pricing, logger)
	a.escalator.Location = loc
	a.escalator.GraceDays = cfg.Billing.GraceDays

	a.sessions = billing.NewSessionManager(store, gw, logger)
	a.sessions.Timeout = cfg.Timeouts.Gateway

	a.reconciler = billing.NewReconciler(store, gateway.NewVerifier(a.webhookSecret), logger)

	return a, nil
}

// newScheduler registers both billing jobs. With redis.addr set, runs are
// also serialized across replicas.
func (a *app) newScheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	s := scheduler.NewInLocation(a.logger, a.loc)
	s.Timeout = a.cfg.Timeouts.Job
	s.Metrics = a.metrics

	if a.cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.logger.Warn("redis unreachable, job locks will fall back to local guards", "addr", a.cfg.Redis.Addr, "error", err)
		}
		s.Locker = scheduler.NewRedisLocker(a.redis)
	}

	jobs := []scheduler.Job{
		{Name: billing.JobGenerateInvoices, Spec: a.cfg.Schedule.Invoices, Run: a.generator.Run},
		{Name: billing.JobApplySurcharges, Spec: a.cfg.Schedule.Surcharges, Run: a.escalator.Run},
	}
	for _, job := range jobs {
		if err := s.Add(job); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// seed writes default prices and one demo house, skipping whatever exists.
func (a *app) seed(ctx context.Context, houseNo string, userID billing.UserID) error {
	now := time.Now()

	settings, err := a.store.Settings(ctx)
	if err != nil {
		return err
	}
	seedPrices := map[billing.Category]decimal.Decimal{
		billing.CategoryMonthlyBill:   decimal.NewFromInt(1000),
		billing.CategoryLateSurcharge: decimal.NewFromInt(100),
	}
	for _, c := range billing.Categories {
		if _, ok := settings[c]; ok {
			a.logger.Info("setting exists, leaving it", "category", c, "value", settings[c])
			continue
		}
		value := seedPrices[c]
		if err := a.store.PutSetting(ctx, billing.Setting{Key: c, Value: value, UpdatedAt: now}); err != nil {
			return err
		}
		a.logger.Info("seeded setting", "category", c, "value", value)
	}

	houses, err := a.store.ListHouses(ctx)
	if err != nil {
		return err
	}
	for _, h := range houses {
		if h.HouseNo == houseNo {
			a.logger.Info("demo house exists", "house_id", h.ID, "house_no", h.HouseNo)
			return nil
		}
	}
	house := billing.House{
		ID:        billing.HouseID("house-" + houseNo),
		HouseNo:   houseNo,
		UserID:    userID,
		CreatedAt: now,
	}
	if err := a.store.SaveHouse(ctx, house); err != nil {
		return err
	}
	a.logger.Info("seeded demo house", "house_id", house.ID, "house_no", houseNo, "user_id", userID)
	return nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis client", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing database", "error", err)
	}
}
