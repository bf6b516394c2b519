package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"sol-pay-gateway/internal/config"
	"sol-pay-gateway/internal/handler"
	"sol-pay-gateway/internal/pkg/logger"
	"sol-pay-gateway/internal/service"
	"sol-pay-gateway/internal/svc"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"
	"github.com/zeromicro/go-zero/rest"
)

var configFile = flag.String("f", "etc/payd.yaml", "the config file")

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
		}
	}()

	flag.Parse()

	c := config.MustLoad(*configFile)
	if err := logger.Init(c.LogConf.ToLogOption()); err != nil {
		logx.Must(err)
	}
	defer logger.Sync()

	serviceContext, err := svc.NewServiceContext(c)
	logx.Must(err)
	defer serviceContext.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = serviceContext.CheckSettlementMint(ctx)
	cancel()
	logx.Must(err)

	server := rest.MustNewServer(restConf(c))
	handler.RegisterHandlers(server, serviceContext.Pipeline)

	sg := zerosvc.NewServiceGroup()
	sg.Add(server)
	sg.Add(service.NewReconcileService(serviceContext.Pipeline, time.Duration(c.TimeConf.ReconcileSec)*time.Second))

	logx.Infof("Starting %s at %s:%d", c.Name, c.Http.Host, c.Http.Port)

	go sg.Start()

	// 等待退出信号
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logx.Info("Shutting down services...")
	sg.Stop()
}

func restConf(c config.Config) rest.RestConf {
	var rc rest.RestConf
	logx.Must(conf.FillDefault(&rc))
	rc.Name = c.Name
	rc.Host = c.Http.Host
	rc.Port = c.Http.Port
	rc.Timeout = c.Http.TimeoutMs
	rc.Log.Stat = false
	return rc
}
