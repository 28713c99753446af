package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"vaultmesh.com/internal/attribution/config"
	"vaultmesh.com/internal/attribution/events"
	"vaultmesh.com/internal/attribution/matcher"
	"vaultmesh.com/internal/attribution/persistence"
	"vaultmesh.com/internal/attribution/service"
	"vaultmesh.com/internal/attribution/sweeper"
	"vaultmesh.com/internal/attribution/writer"
	pkgconfig "vaultmesh.com/pkg/config"
	"vaultmesh.com/pkg/logger"
	"vaultmesh.com/pkg/metrics"
	"vaultmesh.com/pkg/orm"
	"vaultmesh.com/pkg/safe"
	"vaultmesh.com/pkg/xredis"
)

func main() {
	// 1. 加载配置
	var c config.Cfg
	if _, err := pkgconfig.LoadAndWatch("attribution", &c); err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// 2. 初始化基础设施
	logger.Init(c.Name, c.LogLevel)
	defer logger.Sync()

	metrics.MustRegister()

	db := orm.NewMySQL(&orm.Config{
		DSN:         c.Mysql.DSN,
		MaxIdle:     c.Mysql.MaxIdle,
		MaxOpen:     c.Mysql.MaxOpen,
		MaxLifetime: c.Mysql.MaxLifetime,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 存储层
	repo := persistence.New(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Fatal(ctx, "migrate failed", zapErr(err))
	}

	// 4. 事件分发：配了 NATS 用 NATS，否则进程内广播
	var broker events.Broker
	if c.Nats.URL != "" {
		nb, err := events.NewNatsBroker(c.Nats.URL)
		if err != nil {
			logger.Fatal(ctx, "nats connect failed", zapErr(err))
		}
		broker = nb
	} else {
		broker = events.NewMemBroker()
	}
	defer broker.Close()

	// 5. 归因流水线
	policy := buildPolicy(c.Match)
	w := writer.New(repo, repo, repo)
	m := matcher.New(repo, w, policy)

	svc := service.New(repo, repo, repo, m, broker)
	if c.Intent.TTLMinutes > 0 {
		svc.WithIntentTTL(time.Duration(c.Intent.TTLMinutes) * time.Minute)
	}
	// 申报/充值确认都走事件通道进来
	consumer := service.NewConsumer(broker, svc)
	safe.GoCtx(ctx, func(ctx context.Context) {
		if err := consumer.Start(ctx); err != nil {
			logger.Error(ctx, "consumer exited", zapErr(err))
		}
	})

	// 6. Sweeper
	sw := sweeper.New(sweeper.Config{
		Interval:  time.Duration(c.Sweep.IntervalSeconds) * time.Second,
		Grace:     time.Duration(c.Sweep.GraceMinutes) * time.Minute,
		BatchSize: c.Sweep.BatchSize,
		LockKey:   c.Sweep.LockKey,
	}, repo, repo, w)

	if c.Redis.Addr != "" && c.Sweep.LockKey != "" {
		rdb := xredis.NewRedis(&xredis.Config{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		sw.WithLock(xredis.NewLeaderLock(rdb))
	}

	safe.GoCtx(ctx, func(ctx context.Context) {
		sw.Start(ctx)
	})

	// 7. metrics endpoint
	if c.MetricsAddr != "" {
		safe.Go(func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				logger.Error(ctx, "metrics server exited", zapErr(err))
			}
		})
	}

	logger.Info(ctx, "attribution service started")

	// 8. 优雅退出
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info(ctx, "shutdown signal received")
	cancel()
	time.Sleep(1 * time.Second)
}

// buildPolicy 在默认策略上套用配置覆盖，零值沿用默认
func buildPolicy(m config.Match) matcher.Policy {
	p := matcher.DefaultPolicy()
	if m.ToleranceBps > 0 {
		p.AmountToleranceBps = m.ToleranceBps
	}
	if m.AmountWeight > 0 {
		p.AmountWeight = decimal.NewFromFloat(m.AmountWeight)
	}
	if m.TimeWeight > 0 {
		p.TimeWeight = decimal.NewFromFloat(m.TimeWeight)
	}
	if m.AmbiguityDelta > 0 {
		p.AmbiguityDelta = decimal.NewFromFloat(m.AmbiguityDelta)
	}
	if m.AmbiguityCap > 0 {
		p.AmbiguityCap = decimal.NewFromFloat(m.AmbiguityCap)
	}
	return p
}

func zapErr(err error) zap.Field {
	return zap.Error(err)
}
