package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spamforflo-arch/jarvis-and-baymax/internal/capture"
	"github.com/spamforflo-arch/jarvis-and-baymax/internal/config"
	"github.com/spamforflo-arch/jarvis-and-baymax/internal/gateway"
	"github.com/spamforflo-arch/jarvis-and-baymax/internal/permission"
	"github.com/spamforflo-arch/jarvis-and-baymax/internal/playback"
	"github.com/spamforflo-arch/jarvis-and-baymax/internal/responder"
	"github.com/spamforflo-arch/jarvis-and-baymax/internal/store"
	"github.com/spamforflo-arch/jarvis-and-baymax/internal/voice"
	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

// conversationLimit bounds the persisted history; the responder only ever
// sees the configured context window of it.
const conversationLimit = 200

func main() {
	logger := log.Component("main")
	cfg := config.Load()

	st := newStore(cfg)
	hub := gateway.NewHub()
	gate := permission.NewGate(hub, cfg.PermissionPromptGap)
	player := playback.NewPlayer(newSynthesizer(cfg), hub)
	port := responder.NewPort(responder.NewActionMatcher(), newConversational(cfg), cfg.FallbackUtterance)

	engine := capture.NewStreamEngine(cfg.STTSocketURL, cfg.STTAPIKey)

	// The orchestrator and the capture callbacks reference each other;
	// the orchestrator pointer is bound before the server starts taking
	// traffic, so no callback can observe it nil.
	var orch *voice.Orchestrator
	wake := capture.NewWakeDetector(capture.WakeConfig{
		Phrases:     cfg.WakeWords,
		MinInterval: cfg.WakeDebounce,
	}, func(phrase string) { orch.Wake(phrase) })
	ctrl := capture.NewController(engine, wake, capture.Hooks{
		OnInterim: func(text string) { orch.OnInterim(text) },
		OnFinal:   func(text string) { orch.OnFinal(text) },
		OnError:   func(err error) { orch.OnCaptureError(err) },
	})

	orch = voice.NewOrchestrator(voice.Options{
		Capture:       ctrl,
		Speaker:       player,
		Responder:     port,
		Permissions:   gate,
		Store:         st,
		ContextWindow: cfg.ContextWindow,
		ErrorRecovery: cfg.ErrorRecovery,
		WakeEnabled:   len(cfg.WakeWords) > 0,
		OnChange:      hub.PublishState,
	})
	orch.Start()

	srv := gateway.NewServer(hub, orch, ctrl, cfg.AuthPassword)

	serverErrors := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddress).Info("server listening")
		serverErrors <- srv.Start(cfg.HTTPAddress)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	orch.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
}

func newStore(cfg config.Config) store.Store {
	if cfg.RedisAddress != "" {
		return store.NewRedis(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB, conversationLimit)
	}
	return store.NewMemory(conversationLimit)
}

func newSynthesizer(cfg config.Config) playback.Synthesizer {
	switch {
	case cfg.DeepgramAPIKey != "":
		eng := playback.NewDeepgramEngine(cfg.DeepgramAPIKey, cfg.DeepgramModel)
		if cfg.DeepgramModel == "" {
			if v, ok := playback.SelectVoice(eng.Voices(), cfg.PreferredVoice, cfg.Locale); ok {
				eng = playback.NewDeepgramEngine(cfg.DeepgramAPIKey, v.Name)
			}
		}
		return eng
	case cfg.ElevenLabsKey != "":
		return playback.NewElevenLabsEngine(cfg.ElevenLabsKey, cfg.ElevenLabsVoice)
	default:
		log.Component("main").Warn("no synthesis credentials, playback disabled")
		return playback.Disabled{}
	}
}

func newConversational(cfg config.Config) responder.Conversational {
	if cfg.ResponderURL != "" {
		return responder.NewRemote(cfg.ResponderURL, cfg.ResponderKey, cfg.WebEnabled)
	}
	log.Component("main").Info("no responder endpoint, using offline responder")
	return responder.NewLocal()
}
