package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/config"
	"github.com/any-hub/shell-cache/internal/logging"
	"github.com/any-hub/shell-cache/internal/proxy"
	"github.com/any-hub/shell-cache/internal/registry"
	"github.com/any-hub/shell-cache/internal/server"
	"github.com/any-hub/shell-cache/internal/server/routes"
	"github.com/any-hub/shell-cache/internal/upstream"
	"github.com/any-hub/shell-cache/internal/version"
	"github.com/any-hub/shell-cache/internal/worker"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 30 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		names, err := registry.FromConfig(cfg.Worker)
		if err != nil {
			fmt.Fprintf(stdErr, "缓存名称无效: %v\n", err)
			return 1
		}
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["version_set"] = names.Set()
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["result"] = "ok"
		logger.WithFields(fields).Info("config_valid")
		return 0
	}

	// 启动顺序：配置 → 存储 → 上游客户端 → worker 部署 → Fiber server，
	// 所有请求共享同一份存储与 Controller。
	ctx := context.Background()
	storage, err := cache.OpenStorage(ctx, cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer storage.Close()

	client, err := upstream.New(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化上游客户端失败: %v\n", err)
		return 1
	}

	controller := worker.NewController(logger)
	if err := deploy(ctx, controller, cfg, storage, client, logger); err != nil {
		fmt.Fprintf(stdErr, "部署 worker 失败: %v\n", err)
		return 1
	}

	if cfg.Global.WatchConfig {
		watchConfig(opts.configPath, controller, storage, client, logger)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["upstream"] = cfg.Global.Upstream
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("config_loaded")

	if err := startHTTPServer(cfg, controller, client, storage, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("worker_shutdown_timeout")
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("shell-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SHELL_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SHELL_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// deploy 按当前配置构建新 worker 并交给 Controller 完成 install/activate。
func deploy(ctx context.Context, controller *worker.Controller, cfg *config.Config, storage cache.Storage, client *upstream.Client, logger *logrus.Logger) error {
	settings, err := worker.NewSettings(cfg)
	if err != nil {
		return err
	}
	w, err := worker.New(settings, storage, client, logger)
	if err != nil {
		return err
	}
	_, err = controller.Deploy(ctx, w)
	return err
}

// watchConfig 在配置文件变化时重新部署 worker。进程级字段（端口、存储、上游）
// 仍以启动时为准，只有 [Worker] 段与 Origin 会生效。
func watchConfig(path string, controller *worker.Controller, storage cache.Storage, client *upstream.Client, logger *logrus.Logger) {
	err := config.Watch(path, func(cfg *config.Config) {
		fields := logging.BaseFields("redeploy", path)
		if err := deploy(context.Background(), controller, cfg, storage, client, logger); err != nil {
			logger.WithError(err).WithFields(fields).Warn("worker_redeploy_failed")
			return
		}
		logger.WithFields(fields).Info("worker_redeployed")
	}, func(err error) {
		logger.WithError(err).WithFields(logging.BaseFields("redeploy", path)).Warn("config_reload_failed")
	})
	if err != nil {
		logger.WithError(err).Warn("config_watch_failed")
	}
}

func startHTTPServer(cfg *config.Config, controller *worker.Controller, client *upstream.Client, storage cache.Storage, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewHandler(controller, client, logger),
		ListenPort: port,
		BodyLimit:  cfg.Global.RequestBodyLimit,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnostics(app, controller, storage)

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		<-signals
		logger.WithField("action", "shutdown").Info("signal_received")
		_ = app.ShutdownWithTimeout(shutdownTimeout)
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("server_listen")

	return app.Listen(fmt.Sprintf(":%d", port))
}
