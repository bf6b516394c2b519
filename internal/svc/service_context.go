package svc

import (
	"context"
	"fmt"
	"time"

	"sol-pay-gateway/internal/chain"
	"sol-pay-gateway/internal/config"
	"sol-pay-gateway/internal/logic/assembler"
	"sol-pay-gateway/internal/logic/builder"
	"sol-pay-gateway/internal/logic/core"
	"sol-pay-gateway/internal/logic/ledger"
	"sol-pay-gateway/internal/logic/payment"
	"sol-pay-gateway/internal/logic/quote"
	"sol-pay-gateway/internal/logic/submitter"
	"sol-pay-gateway/internal/logic/verifier"
	"sol-pay-gateway/internal/mq"
	"sol-pay-gateway/internal/pkg/logger"
	"sol-pay-gateway/internal/pkg/types"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ServiceContext 进程级资源，main 中创建一次并显式传给各入口
type ServiceContext struct {
	Config    config.Config
	Chain     *chain.Client
	DB        *gorm.DB
	Store     *ledger.Store
	MintCache *ledger.MintCache
	Redis     *redis.Client
	Producer  *kafka.Producer
	Pipeline  *payment.Pipeline
}

func NewServiceContext(c config.Config) (*ServiceContext, error) {
	settlementMint, err := types.TryPubkeyFromBase58(c.Payment.SettlementMint)
	if err != nil {
		return nil, fmt.Errorf("settlement_mint: %w", err)
	}
	merchant, err := types.TryPubkeyFromBase58(c.Payment.MerchantWallet)
	if err != nil {
		return nil, fmt.Errorf("merchant_wallet: %w", err)
	}
	reference, err := types.TryPubkeyFromBase58(c.Payment.ReferenceKey)
	if err != nil {
		return nil, fmt.Errorf("reference_key: %w", err)
	}
	pricing, err := core.NewPricing(c.Payment.UnitPriceUSD, c.Payment.SettlementDecimals)
	if err != nil {
		return nil, fmt.Errorf("unit_price_usd: %w", err)
	}

	// 1. 链上访问
	rpcClient := chain.NewClient(c.Solana)

	// 2. 支付记录（sqlite）
	db, err := ledger.OpenDB(c.Ledger.SQLitePath)
	if err != nil {
		return nil, err
	}
	sc := &ServiceContext{
		Config:    c,
		Chain:     rpcClient,
		DB:        db,
		Store:     ledger.NewStore(db),
		MintCache: ledger.NewMintCache(db, rpcClient),
	}

	// 3. 进度标记（可选）
	var progress payment.ProgressRecorder
	if c.Ledger.RedisAddr != "" {
		sc.Redis = redis.NewClient(&redis.Options{Addr: c.Ledger.RedisAddr})
		progress = ledger.NewRedisProgressStore(sc.Redis, time.Duration(c.Ledger.ProgressTTLHours)*time.Hour)
	}

	// 4. 履约事件（未配置 Kafka 时只记日志）
	var fulfiller payment.Fulfiller = mq.LogFulfiller{}
	if c.KafkaProducerConf.Brokers != "" {
		producer, err := mq.NewKafkaProducer(c.KafkaProducerConf)
		if err != nil {
			sc.Close()
			logger.Errorf("[svc] Kafka producer 初始化失败: %v", err)
			return nil, err
		}
		sc.Producer = producer
		fulfiller = mq.NewKafkaFulfiller(producer, c.KafkaProducerConf.Topic, c.KafkaProducerConf.Partitions,
			time.Duration(c.TimeConf.FulfillTimeoutMs)*time.Millisecond)
	}

	// 5. 支付流水线
	quotes := quote.NewClient(c.Aggregator, pricing, settlementMint.Solana(), reference.Solana())
	b, err := builder.New(quotes, rpcClient, pricing, builder.Options{
		SettlementMint:     settlementMint.Solana(),
		SettlementDecimals: c.Payment.SettlementDecimals,
		Merchant:           merchant.Solana(),
		Reference:          reference.Solana(),
	})
	if err != nil {
		sc.Close()
		return nil, err
	}
	v := verifier.New(rpcClient, pricing, verifier.Options{
		SettlementMint: settlementMint.Solana(),
		Merchant:       merchant.Solana(),
		Reference:      reference.Solana(),
		LookupAttempts: c.TimeConf.VerifyAttempts,
		LookupDelay:    time.Duration(c.TimeConf.VerifyPollMs) * time.Millisecond,
	})
	sc.Pipeline = payment.NewPipeline(
		b,
		assembler.New(rpcClient, rpcClient, rpcClient, rpcClient, c.Payment.DefaultPriorityFee),
		submitter.New(rpcClient, rpcClient, rpcClient),
		v,
		sc.Store,
		fulfiller,
		progress,
		payment.Timeouts{
			Submit:  time.Duration(c.TimeConf.SubmitTimeoutMs) * time.Millisecond,
			Verify:  time.Duration(c.TimeConf.VerifyTimeoutMs) * time.Millisecond,
			Fulfill: time.Duration(c.TimeConf.FulfillTimeoutMs) * time.Millisecond,
		},
	)

	logger.Infof("[svc] 服务上下文初始化完成, merchant_ata=%s unit_raw=%d", b.MerchantATA(), pricing.UnitPriceBaseUnits())
	return sc, nil
}

// CheckSettlementMint 启动时核对链上 mint 精度与配置一致，读取结果写入 mint 缓存
func (sc *ServiceContext) CheckSettlementMint(ctx context.Context) error {
	mint, err := types.TryPubkeyFromBase58(sc.Config.Payment.SettlementMint)
	if err != nil {
		return err
	}
	info, err := sc.MintCache.GetOrFetchMint(ctx, mint.Solana())
	if err != nil {
		return fmt.Errorf("load settlement mint: %w", err)
	}
	if info.Decimals != sc.Config.Payment.SettlementDecimals {
		return fmt.Errorf("settlement mint %s has %d decimals, config says %d",
			info.Mint, info.Decimals, sc.Config.Payment.SettlementDecimals)
	}
	return nil
}

// Close 关闭服务上下文中的资源
func (sc *ServiceContext) Close() {
	if sc.Producer != nil {
		sc.Producer.Flush(5000)
		sc.Producer.Close()
	}
	if sc.Redis != nil {
		_ = sc.Redis.Close()
	}
	if sc.DB != nil {
		_ = ledger.CloseDB(sc.DB)
	}
}
