package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/calliope/internal/profile"
	"github.com/hrygo/calliope/plugin/ai"
	"github.com/hrygo/calliope/plugin/ai/cache"
	"github.com/hrygo/calliope/plugin/ai/memory"
	"github.com/hrygo/calliope/plugin/ai/summary"
	"github.com/hrygo/calliope/server/retrieval"
	apiv1 "github.com/hrygo/calliope/server/router/api/v1"
	"github.com/hrygo/calliope/server/runner/consolidation"
	"github.com/hrygo/calliope/server/service/chat"
	"github.com/hrygo/calliope/store"
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	Retriever *retrieval.WebRetriever
	Chat      *chat.Service

	echoServer    *echo.Echo
	listener      net.Listener
	consolidation *consolidation.Runner
	window        *memory.ConversationWindow

	runnerCancelFuncs []context.CancelFunc
	runnerWG          sync.WaitGroup
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	s := &Server{
		Store:   store,
		Profile: profile,
	}

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	s.echoServer = echoServer

	echoServer.GET("/healthz", func(c echo.Context) error {
		if err := s.Store.Ping(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, "Database unavailable.")
		}
		return c.String(http.StatusOK, "Service ready.")
	})

	aiConfig := ai.NewConfigFromProfile(profile)
	policy := ai.NewRetryPolicy(aiConfig.Retry)

	var llmService ai.LLMService
	if aiConfig.Enabled {
		var err error
		llmService, err = ai.NewLLMService(&aiConfig.LLM)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create LLM service")
		}
	} else {
		slog.Warn("no LLM credentials configured, chat and consolidation are disabled",
			"provider", profile.AILLMProvider)
	}

	embeddingService, err := ai.NewEmbeddingService(&aiConfig.Embedding)
	if err != nil {
		// Retrieval still works, in aggregation order.
		slog.Warn("embedding service unavailable, results will not be reranked",
			"provider", aiConfig.Embedding.Provider, "error", err)
		embeddingService = nil
	}

	var searchCache cache.CacheService
	if profile.SearchCacheTTL > 0 {
		searchCache, err = cache.NewService(cache.ServiceConfig{DefaultTTL: profile.SearchCacheTTL})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create search cache")
		}
	}
	s.Retriever = retrieval.NewWebRetrieverFromProfile(profile, embeddingService, searchCache)

	memories := memory.NewService(store)
	summarizer := summary.NewSummarizer(store, llmService, policy)
	s.window = memory.NewConversationWindow(memory.DefaultWindowSize)

	var consolidator chat.Consolidator
	if llmService != nil {
		s.consolidation = consolidation.NewRunner(summarizer, memory.NewExtractor(store, llmService, policy), profile.ConsolidationWorkers)
		consolidator = s.consolidation
	}
	s.Chat = chat.NewService(store, llmService, s.Retriever, memories, consolidator,
		chat.WithTopK(profile.RerankTopK),
		chat.WithWindow(s.window))

	apiV1Service := apiv1.NewAPIV1Service(profile, s.Retriever, s.Chat, memories, summarizer)
	apiV1Service.RegisterRoutes(echoServer)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}
	s.listener = listener
	s.echoServer.Listener = listener

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start echo server", "error", err)
		}
	}()

	s.StartBackgroundRunners(ctx)
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")

	// Stop accepting turns before draining consolidation.
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", slog.String("error", err.Error()))
	}

	// Runners drain under their own deadline; the store stays open until
	// their last write.
	for _, cancelFunc := range s.runnerCancelFuncs {
		if cancelFunc != nil {
			cancelFunc()
		}
	}
	s.runnerWG.Wait()

	if s.window != nil {
		s.window.Close()
	}

	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close database", slog.String("error", err.Error()))
	}

	slog.Info("calliope stopped properly")
}

func (s *Server) StartBackgroundRunners(ctx context.Context) {
	if s.consolidation == nil {
		return
	}
	runnerCtx, cancel := context.WithCancel(ctx)
	s.runnerCancelFuncs = append(s.runnerCancelFuncs, cancel)

	s.runnerWG.Add(1)
	go func() {
		defer s.runnerWG.Done()
		s.consolidation.Run(runnerCtx)
	}()
	slog.Info("consolidation runner started", "workers", s.Profile.ConsolidationWorkers)
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
