package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/mohsenbt/marzsell/app/controllers"
	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/app/repository"
	"github.com/mohsenbt/marzsell/internal/pkg/bot"
	"github.com/mohsenbt/marzsell/internal/pkg/cache"
	"github.com/mohsenbt/marzsell/internal/pkg/convstate"
	"github.com/mohsenbt/marzsell/internal/pkg/database"
	"github.com/mohsenbt/marzsell/internal/pkg/env"
	"github.com/mohsenbt/marzsell/internal/pkg/ledger"
	"github.com/mohsenbt/marzsell/internal/pkg/panelapi"
	"github.com/mohsenbt/marzsell/internal/pkg/receiptstore"
	"github.com/mohsenbt/marzsell/internal/pkg/router"
	"github.com/mohsenbt/marzsell/internal/pkg/scheduler"
	"github.com/mohsenbt/marzsell/internal/pkg/subscription"
)

const shutdownTimeout = 30 * time.Second

func main() {
	app := NewApplication()
	app.Run()
}

// Application bundles the three long-running pieces: the HTTP server, the
// Telegram bot and the background scheduler. Run starts all of them and
// stops them in reverse order on SIGINT/SIGTERM.
type Application struct {
	http  *fiber.App
	bot   *bot.Bot
	sched *scheduler.Manager
}

func NewApplication() *Application {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)

	if err := models.LoadSettings(db); err != nil {
		log.Warnf("[App] loading shop settings: %v (defaults stay active)", err)
	}

	// Service layer. The panel client shares its auth tokens through Redis
	// so restarts do not re-login against every panel.
	panelClient := panelapi.NewClient(panelapi.NewRedisTokenStore())
	ledgerSvc := ledger.NewServiceFromDB(db)

	factory := repository.GetGlobalFactory()
	subsMgr := subscription.NewManager(subscription.Deps{
		Repo:      subscription.NewRepository(db),
		Payments:  ledgerSvc,
		PanelAPI:  panelClient,
		Plans:     factory.GetPlanRepository(),
		Customers: factory.GetCustomerRepository(),
		Panels:    factory.GetPanelRepository(),
		Reconcile: factory.GetReconcileRepository(),
	})

	receipts, err := receiptstore.NewClientFromEnv()
	if err != nil {
		log.Fatalf("[App] receipt store setup failed: %v", err)
	}
	if receipts == nil {
		log.Info("[App] receipt archiving disabled (S3_RECEIPTS_ENABLED is off)")
	}

	// The bot is the primary sales surface; without a token there is
	// nothing to sell through, so refuse to start.
	tgBot, err := bot.New(botDeps(panelClient, ledgerSvc, subsMgr, receipts, factory))
	if err != nil {
		log.Fatalf("[App] bot setup failed: %v", err)
	}
	subsMgr.SetNotifier(tgBot)

	// A nil *receiptstore.Client must stay a nil interface; guard before
	// handing it to the controllers.
	var signer controllers.ReceiptSigner
	if receipts != nil {
		signer = receipts
	}
	controllers.InitAPI(ledgerSvc, subsMgr, panelClient, signer, tgBot)

	sched := scheduler.New(scheduler.Deps{
		Subs:      subsMgr,
		Ledger:    ledgerSvc,
		Panels:    panelClient,
		PanelRepo: factory.GetPanelRepository(),
		Reconcile: factory.GetReconcileRepository(),
	})

	return &Application{
		http:  newHTTPServer(),
		bot:   tgBot,
		sched: sched,
	}
}

func botDeps(panels *panelapi.Client, ledgerSvc *ledger.Service, subs *subscription.Manager, receipts *receiptstore.Client, factory *repository.Factory) bot.Deps {
	d := bot.Deps{
		Sessions: convstate.NewStoreFromCache(),
		Repos: bot.Repos{
			Customer: factory.GetCustomerRepository(),
			Plan:     factory.GetPlanRepository(),
			Panel:    factory.GetPanelRepository(),
			Setting:  factory.GetSettingRepository(),
		},
		Ledger: ledgerSvc,
		Subs:   subs,
		Panels: panels,
	}
	if receipts != nil {
		d.Receipts = receipts
	}
	return d
}

func newHTTPServer() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "marzsell",
		DisableStartupMessage: true,
	})

	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "metrics"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	if basePath := findBasePath(); basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
		}))
	} else {
		log.Warn("[App] public/docs not found, API docs are not served")
	}

	router.InstallRouter(app)

	return app
}

// findBasePath locates the project root relative to the working directory so
// the binary runs both from the repo root and from cmd/marzsell.
func findBasePath() string {
	for _, path := range []string{"./", "../../", "../../../"} {
		if _, err := os.Stat(path + "public/docs"); !os.IsNotExist(err) {
			return path
		}
	}
	return ""
}

func (a *Application) Run() {
	a.sched.Start()
	go a.bot.Start()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	go func() {
		if err := a.http.Listen(addr); err != nil {
			log.Errorf("[App] http server stopped: %v", err)
		}
	}()
	log.Infof("[App] listening on %s", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("[App] shutting down")
	a.bot.Stop()
	a.sched.Stop()
	if err := a.http.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("[App] http shutdown: %v", err)
	}
	log.Info("[App] bye")
}
