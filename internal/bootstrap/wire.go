package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"stagewhisper/internal/audio"
	"stagewhisper/internal/classify"
	"stagewhisper/internal/config"
	"stagewhisper/internal/hub"
	"stagewhisper/internal/metrics"
	"stagewhisper/internal/ports"
	"stagewhisper/internal/providers/gladia"
	"stagewhisper/internal/providers/openai"
	"stagewhisper/internal/rules"
	"stagewhisper/internal/server"
	"stagewhisper/internal/session"
	"stagewhisper/internal/transcript"
	"stagewhisper/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Coordinator *usecase.Coordinator
	Server      *server.Server
	Hub         *hub.Hub
	Devices     ports.MediaDevices
	Metrics     *metrics.Metrics
	Config      config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, logger *zap.Logger, overrides map[string]string) (Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := config.LoadWith(overrides)
	if err != nil {
		return Services{}, err
	}

	protocol, err := buildProtocol(cfg)
	if err != nil {
		return Services{}, err
	}

	classifier, err := classify.NewClassifierFromFile(cfg.Classify.KeywordsFile)
	if err != nil {
		return Services{}, err
	}

	normalizer, err := rules.NewNormalizer(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	m := metrics.New(nil)
	manager := session.NewManager(protocol, eventSink, logger, m)
	devices := audio.NewPulseDevices(cfg.Audio.PactlCommand, cfg.Audio.FFmpegCommand)
	pipeline := audio.NewPipeline(devices, manager, eventSink, audio.Config{
		SampleRate:    protocol.SampleRate(),
		Channels:      cfg.Audio.Channels,
		BufferSamples: protocol.BufferSamples(),
		MonitorPath:   cfg.Audio.MonitorPath,
	}, logger)

	h := hub.New(logger)
	coordinator := usecase.NewCoordinator(
		manager, pipeline, classifier, normalizer, h, eventSink,
		transcript.NewLog(), logger,
	)
	srv := server.New(coordinator, devices, h, m, logger, cfg.Server.ListenAddr)

	return Services{
		Coordinator: coordinator,
		Server:      srv,
		Hub:         h,
		Devices:     devices,
		Metrics:     m,
		Config:      cfg,
	}, nil
}

func buildProtocol(cfg config.Config) (ports.ProviderProtocol, error) {
	switch cfg.Provider {
	case "", "openai":
		return openai.NewProtocol(openai.Config{
			APIKey:   cfg.OpenAI.APIKey,
			BaseURL:  cfg.OpenAI.BaseURL,
			Model:    cfg.OpenAI.Model,
			Language: cfg.OpenAI.Language,
			Prompt:   cfg.OpenAI.Prompt,
		}), nil
	case "gladia":
		return gladia.NewProtocol(gladia.Config{
			APIKey:   cfg.Gladia.APIKey,
			BaseURL:  cfg.Gladia.BaseURL,
			Model:    cfg.Gladia.Model,
			Language: cfg.Gladia.Language,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
