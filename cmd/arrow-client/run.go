package main

import (
	"sync/atomic"

	"github.com/spf13/cobra"

	"arrow-client/config"
	"arrow-client/httpstatus"
	"arrow-client/link"
	alog "arrow-client/log"
	"arrow-client/metrics"
	"arrow-client/netmon"
	"arrow-client/relay"
	"arrow-client/status"
	"arrow-client/transport"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "连接 Arrow 服务并开始转发本地服务",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			if err := alog.Init(cfg.Logging); err != nil {
				return err
			}
			defer alog.Close()
			return run(cmd, cfg)
		},
	}
}

func run(cmd *cobra.Command, cfg config.Config) error {
	var clientStatus atomic.Value
	clientStatus.Store(status.ClientStarting)

	id, err := config.EnsureIdentity(cfg.Arrow.IdentityFile)
	if err != nil {
		return err
	}
	services, err := cfg.ServiceRecords()
	if err != nil {
		return err
	}
	dialer, err := transport.NewDialer(cfg.TLS, cfg.Arrow.ConnectTimeout)
	if err != nil {
		return err
	}
	m := metrics.New()

	engine := link.New(link.Options{
		Host:       cfg.Arrow.Host,
		Port:       uint16(cfg.Arrow.Port),
		UUID:       id.UUID,
		Passphrase: id.Passphrase,
		MAC:        cfg.Arrow.MAC,
		HardwareAddr: func() (string, error) {
			return netmon.HardwareAddr(cfg.Arrow.Interface)
		},
		Services:          services,
		KeepaliveInterval: cfg.Arrow.KeepaliveInterval,
		ReadTimeout:       cfg.Arrow.ReadTimeout,
		ConnectTimeout:    cfg.Arrow.ConnectTimeout,
		NoNetworkDelay:    cfg.Network.RetryDelay,
		Dialer:            dialer,
		Opener:            relay.NewDialer(cfg.Local, cfg.Services, cfg.Arrow.ConnectTimeout),
		Listener:          logListener{},
		Metrics:           m,
		LogEvents:         cfg.Arrow.LogEvents,
		AssumeNetwork:     cfg.Network.AssumeAvailable,
	})

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if !cfg.Network.AssumeAvailable {
		go netmon.New(cfg.Network).Run(ctx, engine)
	}
	if cfg.HTTP.Enabled {
		router := httpstatus.NewRouter(engine, func() status.ClientStatus {
			return clientStatus.Load().(status.ClientStatus)
		}, m)
		go func() {
			if err := httpstatus.Serve(ctx, cfg.HTTP.Listen, router); err != nil {
				alog.With(map[string]any{"listen": cfg.HTTP.Listen, "status": "http_error"}).WithError(err).Error("状态接口启动失败")
			}
		}()
	}

	alog.With(map[string]any{
		"host":   cfg.Arrow.Host,
		"port":   cfg.Arrow.Port,
		"uuid":   id.UUID,
		"local":  cfg.Local.Network,
		"status": "starting",
	}).Info("arrow-client 启动")
	clientStatus.Store(status.ClientRunning)

	go func() {
		<-ctx.Done()
		clientStatus.Store(status.ClientStopping)
	}()
	err = engine.Run(ctx)
	clientStatus.Store(status.ClientStopped)
	alog.With(map[string]any{"status": "stopped"}).Info("arrow-client 已退出")
	return err
}

// logListener 把链路事件写入结构化日志。
type logListener struct{}

func (logListener) OnConnected(host string) {
	alog.With(map[string]any{"host": host, "status": "connected"}).Info("已连接 Arrow 服务")
}

func (logListener) OnDisconnected() {
	alog.With(map[string]any{"status": "disconnected"}).Warn("与 Arrow 服务断开")
}

func (logListener) OnLog(code int64, msg string) {
	if msg == "" {
		return
	}
	alog.With(map[string]any{"code": code, "status": "event"}).Debug(msg)
}

func (logListener) OnNotify(n link.Notification) {
	fields := map[string]any{"kind": n.Kind.String(), "status": "notify"}
	if n.MAC != "" {
		fields["mac"] = n.MAC
	}
	alog.With(fields).Info(n.Message)
}
