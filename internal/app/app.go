package app

import (
	"os"
	"strconv"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sadlil/gologger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"payments/internal/card"
	"payments/internal/evm"
	"payments/internal/ledger"
	"payments/internal/notify"
	"payments/internal/worker"
)

type App struct {
	Rdb      *redis.Client
	Db       *gorm.DB
	Aqc      *asynq.Client
	Aqi      *asynq.Inspector
	Store    ledger.Store
	Ledger   *ledger.Service
	Evm      *evm.Client
	Curation *evm.CurationSender
	Card     *card.Client
	Notifier *notify.TelegramNotifier
	Pool     *worker.Pool
	Logger   gologger.GoLogger
}

func Init() *App {
	loadEnv()
	logger := setupLogger()
	redisClient := setupRedis()
	db := setupDb()
	asynqClient := setupAsynqClient()
	asynqInspector := setupAsynqInspector()
	pool := worker.NewPool(envInt("NOTIFY_POOL_SPEED", 2), envInt("NOTIFY_POOL_QUEUE", 256))

	chainId, err := strconv.ParseUint(os.Getenv("CHAIN_ID"), 10, 64)
	if err != nil {
		panic("CHAIN_ID is not set")
	}
	tokenDecimals := int32(envInt("TOKEN_DECIMALS", 18))
	evmClient, err := evm.New(os.Getenv("RPC_URL"), chainId, os.Getenv("CURATION_CONTRACT_ADDRESS"), tokenDecimals)
	if err != nil {
		panic("failed to connect to the rpc node")
	}
	curation := evm.NewCurationSender(
		os.Getenv("RPC_URL"),
		int64(chainId),
		os.Getenv("VAULT_PRIVATE_KEY"),
		os.Getenv("CURATION_CONTRACT_ADDRESS"),
		tokenDecimals,
	)
	cardClient := card.NewClient(os.Getenv("CARD_API_URL"), os.Getenv("CARD_API_KEY"))

	opts := ledger.ServiceOptions{
		Logger:       logger,
		VaultAddress: os.Getenv("VAULT_ADDRESS"),
		TokenAddresses: map[ledger.Currency]string{
			ledger.CurrencyUSDT: os.Getenv("USDT_CONTRACT_ADDRESS"),
		},
	}
	notifier, err := notify.NewTelegramNotifier(pool, logger)
	if err != nil {
		logger.Warn("telegram notifier disabled: " + err.Error())
	} else {
		opts.Notifier = notifier
	}

	store := ledger.NewStore(db)
	svc := ledger.NewService(store, opts)

	return &App{
		Rdb:      redisClient,
		Db:       db,
		Aqc:      asynqClient,
		Aqi:      asynqInspector,
		Store:    store,
		Ledger:   svc,
		Evm:      evmClient,
		Curation: curation,
		Card:     cardClient,
		Notifier: notifier,
		Pool:     pool,
		Logger:   logger,
	}
}

func setupLogger() gologger.GoLogger {
	fileLog := os.Getenv("FILE_LOG")
	if fileLog != "" {
		return gologger.GetLogger(gologger.FILE, fileLog)
	}
	return gologger.GetLogger(gologger.CONSOLE, gologger.SimpleLog)
}

func setupRedis() *redis.Client {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})
	return redisClient
}

func setupDb() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		panic("failed to connect to the db")
	}
	err = db.AutoMigrate(
		&ledger.User{},
		&ledger.Article{},
		&ledger.Transaction{},
		&ledger.BlockchainTransaction{},
	)
	if err != nil {
		panic("failed to run migrations")
	}

	return db
}

func setupAsynqClient() *asynq.Client {
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return asynqClient
}

func setupAsynqInspector() *asynq.Inspector {
	asynqInspector := asynq.NewInspector(asynq.RedisClientOpt{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return asynqInspector
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func loadEnv() {
	env := os.Getenv("APP_ENV")
	if "" == env {
		env = "development"
	}

	godotenv.Load(".env." + env + ".local")

	if "test" != env {
		godotenv.Load(".env.local")
	}
	godotenv.Load(".env." + env)
	godotenv.Load()
}
