package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/cid-hub/cid-hub/internal/cache"
	"github.com/cid-hub/cid-hub/internal/config"
	"github.com/cid-hub/cid-hub/internal/gateway"
	"github.com/cid-hub/cid-hub/internal/localnode"
	"github.com/cid-hub/cid-hub/internal/logging"
	"github.com/cid-hub/cid-hub/internal/metrics"
	"github.com/cid-hub/cid-hub/internal/provider"
	"github.com/cid-hub/cid-hub/internal/proxy"
	"github.com/cid-hub/cid-hub/internal/server"
	"github.com/cid-hub/cid-hub/internal/server/routes"
	"github.com/cid-hub/cid-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

const (
	configEnvVar    = "CID_HUB_CONFIG"
	shutdownTimeout = 10 * time.Second
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

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
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["providers"] = config.ProviderSummary(cfg.Providers)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 日志 → 磁盘缓存 → 指标 → HTTP client → Provider 链 → pin → Resolver → Fiber”顺序，
	// 保证所有请求共享同一份缓存、连接池与 singleflight 分组。
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	var collector *metrics.Collector
	if cfg.Global.MetricsEnabled {
		collector, err = metrics.NewCollector()
		if err != nil {
			fmt.Fprintf(stdErr, "初始化指标失败: %v\n", err)
			return 1
		}
	}

	httpClient := server.NewUpstreamClient()
	chain, err := provider.NewChain(cfg, httpClient, logger, collector)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 Provider 链失败: %v\n", err)
		return 1
	}

	var pinner *localnode.Pinner
	if cfg.Global.PinRemoteFetches {
		pinner, err = localnode.NewPinner(cfg.Global.LocalRPC, cfg.Global.UserAgent)
		if err != nil {
			fmt.Fprintf(stdErr, "初始化本地节点 pin 失败: %v\n", err)
			return 1
		}
		defer pinner.Close()
	}

	resolverOpts := gateway.Options{
		Store:        store,
		Fetcher:      chain,
		Logger:       logger,
		Metrics:      collector,
		StrictCID:    cfg.Global.StrictCID,
		PinTimeout:   cfg.Global.PinTimeout.DurationValue(),
		FetchTimeout: cfg.Global.FetchTimeout.DurationValue(),
	}
	if pinner != nil {
		resolverOpts.Pinner = pinner
	}
	resolver, err := gateway.NewResolver(resolverOpts)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 Resolver 失败: %v\n", err)
		return 1
	}
	defer resolver.Wait()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["providers"] = config.ProviderSummary(cfg.Providers)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = store.Root()
	fields["pin_remote_fetches"] = cfg.Global.PinRemoteFetches
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	app, err := buildApp(cfg, logger, proxy.NewHandler(resolver, logger, collector), chain, collector, store.Root())
	if err != nil {
		fmt.Fprintf(stdErr, "构建 HTTP 服务失败: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := pflag.NewFlagSet(version.Name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVarP(&configFlag, "config", "c", "", "配置文件路径（默认 ./config.toml，可被 "+configEnvVar+" 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVarP(&showVer, "version", "v", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(configEnvVar)
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

// buildApp 组装 Fiber 应用：内容路由 + /-/ 诊断接口。
func buildApp(cfg *config.Config, logger *logrus.Logger, handler server.ContentHandler, chain routes.ProviderLister, collector *metrics.Collector, storageRoot string) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Handler:    handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticRoutes(app, routes.DiagnosticsOptions{
		Providers:   chain,
		Metrics:     collector,
		StoragePath: storageRoot,
	})
	return app, nil
}

// serve 监听端口直到 ctx 结束，随后在 shutdownTimeout 内优雅关闭。
func serve(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithFields(logrus.Fields{"action": "shutdown", "port": port}).Info("Fiber 服务关闭")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}
