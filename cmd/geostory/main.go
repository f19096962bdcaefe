package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ivlev/geostory/internal/clock"
	"github.com/ivlev/geostory/internal/config"
	"github.com/ivlev/geostory/internal/director"
	"github.com/ivlev/geostory/internal/engine"
	"github.com/ivlev/geostory/internal/geo"
	"github.com/ivlev/geostory/internal/logging"
	"github.com/ivlev/geostory/internal/metrics"
	"github.com/ivlev/geostory/internal/system"
	"github.com/ivlev/geostory/internal/viewer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[-] Ошибка конфигурации: %v", err)
	}

	inputPtr := flag.String("input", cfg.InputPath, "Путь к сценарию (по умолчанию: самый свежий файл в "+cfg.ScenariosDir+")")
	fpsPtr := flag.Int("fps", cfg.FPS, "Кадров в секунду цикла отрисовки")
	speedPtr := flag.Float64("speed", cfg.Speed, "Множитель скорости (отрицательный - назад)")
	durationPtr := flag.Duration("duration", cfg.Duration, "Ограничение времени работы (0 - без ограничения)")
	servePtr := flag.String("serve", cfg.ServeAddr, "Адрес для вьюера и /metrics, например :8090 (пусто - без экрана)")
	preloadPtr := flag.Bool("preload", cfg.Preload, "Ждать готовности медиа перед стартом")
	exitPtr := flag.Bool("exit-on-stop", cfg.ExitOnStop, "Завершиться, когда часы остановятся на границе")
	statsPtr := flag.Bool("stats", cfg.ShowStats, "Показать отчет о производительности")
	levelPtr := flag.String("log-level", cfg.LogLevel, "Уровень логов: debug, info, warn, error")
	jsonPtr := flag.Bool("log-json", cfg.LogJSON, "Логи в JSON")
	generatePtr := flag.String("generate", cfg.GenerateOutput, "Сгенерировать тур и выйти: путь к файлу или auto")
	waypointsPtr := flag.String("waypoints", cfg.WaypointsPath, "YAML со списком точек тура (для -generate)")
	tourPtr := flag.Duration("tour-duration", cfg.TourDuration, "Длительность генерируемого тура")

	flag.Parse()

	cfg.InputPath = *inputPtr
	cfg.FPS = *fpsPtr
	cfg.Speed = *speedPtr
	cfg.Duration = *durationPtr
	cfg.ServeAddr = *servePtr
	cfg.Preload = *preloadPtr
	cfg.ExitOnStop = *exitPtr
	cfg.ShowStats = *statsPtr
	cfg.LogLevel = *levelPtr
	cfg.LogJSON = *jsonPtr
	cfg.GenerateOutput = *generatePtr
	cfg.WaypointsPath = *waypointsPtr
	cfg.TourDuration = *tourPtr

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[-] Ошибка: %v", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[-] Ошибка: %v", err)
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.JSON = cfg.LogJSON
	logger := logging.New(logCfg)
	logging.SetDefault(logger)

	if cfg.GenerateOutput != "" {
		if err := generateTour(cfg); err != nil {
			log.Fatalf("[-] Ошибка генерации тура: %v", err)
		}
		return
	}

	inputPath := cfg.InputPath
	if inputPath == "" {
		latest, err := director.FindLatestScenario(cfg.ScenariosDir)
		if err != nil {
			log.Fatalf("[-] Ошибка: %v. Положите сценарий в %s/", err, cfg.ScenariosDir)
		}
		inputPath = latest
		cfg.InputPath = latest
		fmt.Printf("[*] Выбран сценарий: %s\n", inputPath)
	}

	scenario, err := director.ReadScenario(inputPath)
	if err != nil {
		log.Fatalf("[-] Ошибка чтения сценария: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.Get()
	deps := engine.Deps{
		Logger:  logger,
		Metrics: reg,
		Out:     os.Stdout,
	}

	// Без home камера стартует с первого ключевого кадра, а не из центра Земли
	startPose, _ := scenario.StartPose(geo.WGS84{})

	var hub *viewer.Hub
	serveErr := make(chan error, 1)
	if cfg.ServeAddr != "" {
		// Увеличиваем лимиты системы: каждый вьюер держит соединение
		system.InitResourceLimits(logger, cfg.OpenFileLimit)

		hub = viewer.NewHub(viewer.WithLogger(logger), viewer.WithMetrics(reg))
		hub.Reset(startPose)
		go func() {
			serveErr <- viewer.Serve(ctx, cfg.ServeAddr, hub, reg, logger)
		}()
		deps.Viewer = hub
		deps.Sinks = engine.RemoteSinks{Hub: hub}
		fmt.Printf("[*] Вьюер: ws://%s/ws | Метрики: http://%s/metrics\n", cfg.ServeAddr, cfg.ServeAddr)
	} else {
		deps.Viewer = viewer.NewHeadless(startPose)
		deps.Sinks = engine.HeadlessSinks{Out: os.Stdout, Logger: logger}
	}

	presentation, err := engine.New(ctx, cfg, scenario, deps)
	if err != nil {
		log.Fatalf("[-] Ошибка сборки презентации: %v", err)
	}

	if hub != nil {
		hub.OnTransport(func(cmd viewer.TransportCommand) {
			err := presentation.Control(ctx, func(c *clock.Clock) {
				if err := cmd.Apply(c); err != nil {
					logger.Warn("transport request rejected", "op", cmd.Op, "error", err)
				}
			})
			if err != nil {
				logger.Debug("transport request dropped", "op", cmd.Op, "error", err)
			}
		})
	}
	go togglePauseOnSignal(ctx, presentation)

	if err := presentation.Run(ctx); err != nil {
		log.Fatalf("[-] Ошибка презентации: %v", err)
	}

	if cfg.ServeAddr != "" {
		stop()
		select {
		case err := <-serveErr:
			if err != nil {
				log.Printf("[!] Сервер вьюера: %v", err)
			}
		case <-time.After(6 * time.Second):
		}
	}

	res := presentation.Result()
	fmt.Printf("[+++] Готово! Кадров: %d, время презентации: %.2fs\n", res.Frames, res.Presentation.Seconds())
}

// togglePauseOnSignal ставит презентацию на паузу и снимает с нее по SIGUSR1.
func togglePauseOnSignal(ctx context.Context, p *engine.Presentation) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	defer signal.Stop(sigs)
	for {
		select {
		case <-sigs:
			if err := p.TogglePause(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func generateTour(cfg *config.Config) error {
	fmt.Println("[*] Режим генерации тура...")

	waypoints, err := director.ReadWaypoints(cfg.WaypointsPath)
	if err != nil {
		return err
	}

	dir := director.NewDirector()
	scenario, err := dir.GenerateTour(waypoints, time.Now().UTC(), cfg.TourDuration)
	if err != nil {
		return err
	}

	outputPath := cfg.GenerateOutput
	if outputPath == "auto" {
		outputPath = director.GenerateScenarioPath(cfg.ScenariosDir)
	}
	if err := director.WriteScenario(scenario, outputPath); err != nil {
		return err
	}

	fmt.Printf("[+++] Успех! Сценарий сохранен: %s (%d точек, %d ключевых кадров)\n", outputPath, len(waypoints), len(scenario.Keyframes))
	return nil
}
