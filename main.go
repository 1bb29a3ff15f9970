package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/story-sync/story-sync/internal/api"
	"github.com/story-sync/story-sync/internal/cache"
	"github.com/story-sync/story-sync/internal/config"
	"github.com/story-sync/story-sync/internal/controller"
	"github.com/story-sync/story-sync/internal/gateway"
	"github.com/story-sync/story-sync/internal/logging"
	"github.com/story-sync/story-sync/internal/push"
	"github.com/story-sync/story-sync/internal/server/routes"
	"github.com/story-sync/story-sync/internal/store"
	"github.com/story-sync/story-sync/internal/story"
	"github.com/story-sync/story-sync/internal/version"
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

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["generation"] = cfg.CacheGeneration
		fields["origin"] = cfg.OriginBaseURL
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	entities, err := store.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(stdErr, "打开实体库失败: %v\n", err)
		return 1
	}
	defer entities.Close()

	cacheStore, err := cache.NewStore(cfg.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	httpClient := gateway.NewUpstreamClient(cfg.UpstreamTimeout.DurationValue())

	// 启动遵循“安装预缓存 → 激活清理旧代 → 对外监听”的顺序，
	// 保证请求到达时应用壳已就位、过期的缓存代已被清走。
	ctx := context.Background()
	lifecycle := cache.NewLifecycle(cache.LifecycleOptions{
		Store:      cacheStore,
		Client:     httpClient,
		Logger:     logger,
		OriginBase: cfg.OriginBaseURL,
		Generation: cfg.CacheGeneration,
		NamePrefix: cfg.GenerationPrefix,
	})
	if err := lifecycle.Install(ctx, cfg.PrecacheURLs); err != nil {
		fmt.Fprintf(stdErr, "缓存安装失败: %v\n", err)
		return 1
	}
	if err := lifecycle.Activate(ctx); err != nil {
		fmt.Fprintf(stdErr, "缓存激活失败: %v\n", err)
		return 1
	}

	auth := &story.AuthContext{}
	apiClient := api.NewClient(httpClient, cfg.OriginBaseURL, auth)

	pushEndpoint := fmt.Sprintf("http://127.0.0.1:%d/-/push", cfg.ListenPort)
	platform := push.NewLocalPlatform(filepath.Join(cfg.StoragePath, "subscription.json"), pushEndpoint)
	manager := push.NewManager(platform, apiClient, cfg.VAPIDPublicKey, logger)

	ctrl := controller.New(apiClient, entities, auth, &pushListener{manager: manager}, logger)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["generation"] = cfg.CacheGeneration
	fields["origin"] = cfg.OriginBaseURL
	fields["listen_port"] = cfg.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, ctrl, httpClient, cacheStore, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("story-sync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 STORY_SYNC_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("STORY_SYNC_CONFIG")
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

func startHTTPServer(cfg *config.Config, ctrl *controller.Controller, httpClient *http.Client, cacheStore cache.Store, logger *logrus.Logger) error {
	handler := gateway.NewHandler(httpClient, logger, cacheStore, cfg.OriginBaseURL, cfg.CacheGeneration)

	app, err := gateway.NewApp(gateway.Options{
		Logger:   logger,
		Handler:  handler,
		Notifier: &gateway.LogNotifier{Logger: logger},
	})
	if err != nil {
		return err
	}
	routes.RegisterAppRoutes(app, ctrl, logger)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   cfg.ListenPort,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", cfg.ListenPort))
}

// pushListener 把订阅管理器接到协调控制器的登录态回调上：
// 订阅失败翻译为非致命提示，登出清理则完全静默。
type pushListener struct {
	manager *push.Manager
}

func (l *pushListener) OnAuthenticated(ctx context.Context) *controller.Notice {
	if err := l.manager.OnAuthenticated(ctx); err != nil {
		return &controller.Notice{
			Level:   controller.NoticeError,
			Message: "Notifikasi gagal diaktifkan.",
		}
	}
	return nil
}

func (l *pushListener) OnDeauthenticated(ctx context.Context) {
	l.manager.OnDeauthenticated(ctx)
}
