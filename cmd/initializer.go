package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"

	firebase "firebase.google.com/go"
	"github.com/IBM/sarama"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"motopay/internal/config"
	"motopay/internal/handlers"
	"motopay/internal/locks"
	"motopay/internal/notify"
	"motopay/internal/pay"
	"motopay/internal/repositories"
	"motopay/internal/services"
	"motopay/utils"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger
	logger   *slog.Logger
	db       *sql.DB
	tokens   *utils.Manager

	paymentHandler    *handlers.PaymentHandler
	vehicleHandler    *handlers.VehicleHandler
	complianceHandler *handlers.ComplianceHandler
	agentHandler      *handlers.AgentHandler
	deviceHandler     *handlers.DeviceHandler

	paymentService *services.PaymentService
	renewalService *services.RenewalService

	dispatcher *notify.Dispatcher
	redis      *redis.Client
	producer   sarama.SyncProducer
}

func initializeApp(ctx context.Context, cfg config.Config, db *sql.DB, errorLog, infoLog *log.Logger) (*application, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	app := &application{errorLog: errorLog, infoLog: infoLog, logger: logger, db: db}

	tokens, err := utils.NewManager(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("jwt manager: %w", err)
	}
	app.tokens = tokens

	// Repositories
	dialect := repositories.Dialect(cfg.Database.Driver)
	vehicleRepo := &repositories.VehicleRepository{DB: db, Dialect: dialect}
	complianceRepo := &repositories.ComplianceRepository{DB: db, Dialect: dialect}
	ledgerRepo := &repositories.LedgerRepository{DB: db, Dialect: dialect}
	transactionRepo := &repositories.TransactionRepository{DB: db, Dialect: dialect}
	commissionRepo := &repositories.CommissionRepository{DB: db, Dialect: dialect}
	deviceRepo := &repositories.DeviceTokenRepository{DB: db, Dialect: dialect}

	// Notifications
	hub := notify.NewHub(logger)
	sinks := []notify.Sink{hub}
	more, err := app.notificationSinks(ctx, cfg, deviceRepo)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, more...)
	app.dispatcher = notify.NewDispatcher(logger, cfg.Notify.QueueSize, sinks...)
	app.dispatcher.Start(cfg.Notify.Workers)

	// Locks
	var locker locks.Locker = locks.NewLocal()
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		app.redis = redis.NewClient(opts)
		locker = locks.NewRedis(app.redis, cfg.Redis.LockTTL, logger)
	} else {
		infoLog.Println("REDIS_URL not set; payment locks are process-local")
	}

	// Services
	gateway, err := pay.NewClient(pay.Config{
		SecretKey:   cfg.Paystack.SecretKey,
		BaseURL:     cfg.Paystack.BaseURL,
		CallbackURL: cfg.Paystack.CallbackURL,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	node, err := snowflake.NewNode(cfg.Payments.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	feePct, _ := cfg.FeePercent()
	commissionPct, _ := cfg.CommissionPercent()

	paymentService, err := services.NewPaymentService(vehicleRepo, complianceRepo, transactionRepo, gateway, services.PaymentConfig{
		FeePercent:    feePct,
		WebhookSecret: cfg.Paystack.SecretKey,
		Commission:    services.NewCommissionCalculator(commissionPct),
		Locker:        locker,
		Notifier:      app.dispatcher,
		ReceiptIDs:    node,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	complianceService := services.NewComplianceService(vehicleRepo, complianceRepo, ledgerRepo, logger)
	vehicleService := services.NewVehicleService(vehicleRepo, transactionRepo, logger)
	agentService := services.NewAgentService(commissionRepo, transactionRepo)
	app.paymentService = paymentService
	app.renewalService = services.NewRenewalService(ledgerRepo, app.dispatcher, cfg.Workers.ReminderDays, logger)

	// Handlers
	app.paymentHandler = &handlers.PaymentHandler{Service: paymentService, Stream: hub, Logger: logger}
	app.vehicleHandler = &handlers.VehicleHandler{Service: vehicleService, Compliance: complianceService, Logger: logger}
	app.complianceHandler = &handlers.ComplianceHandler{Service: complianceService, Logger: logger}
	app.agentHandler = &handlers.AgentHandler{Service: agentService, Logger: logger}
	app.deviceHandler = &handlers.DeviceHandler{Store: deviceRepo, Logger: logger}

	return app, nil
}

// notificationSinks wires the optional delivery channels. Each one is enabled
// only when its configuration is present.
func (app *application) notificationSinks(ctx context.Context, cfg config.Config, devices notify.TokenSource) ([]notify.Sink, error) {
	var sinks []notify.Sink

	if cfg.Notify.FirebaseCredential != "" {
		fb, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.Notify.FirebaseCredential))
		if err != nil {
			return nil, fmt.Errorf("firebase app: %w", err)
		}
		client, err := fb.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase messaging: %w", err)
		}
		sinks = append(sinks, &notify.Push{Client: client, Tokens: devices})
	}

	if cfg.Notify.AWSRegion != "" {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Notify.AWSRegion)})
		if err != nil {
			return nil, fmt.Errorf("aws session: %w", err)
		}
		sinks = append(sinks, &notify.SMS{Client: sns.New(sess), SenderID: cfg.Notify.SMSSenderID})
		if cfg.Notify.ReceiptBucket != "" {
			sinks = append(sinks, &notify.ReceiptArchive{Client: s3.New(sess), Bucket: cfg.Notify.ReceiptBucket, Prefix: "receipts"})
		}
	}

	if len(cfg.Notify.KafkaBrokers) > 0 {
		producer, err := notify.NewSyncProducer(cfg.Notify.KafkaBrokers)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		app.producer = producer
		sinks = append(sinks, &notify.Broker{Producer: producer, Topic: cfg.Notify.KafkaTopic})
	}

	for _, s := range sinks {
		app.infoLog.Printf("notification sink enabled: %s", s.Name())
	}
	return sinks, nil
}

func (app *application) close() {
	if app.dispatcher != nil {
		app.dispatcher.Close()
	}
	if app.producer != nil {
		if err := app.producer.Close(); err != nil {
			app.errorLog.Printf("close kafka producer: %v", err)
		}
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
}
