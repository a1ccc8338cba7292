package main

import (
	"net/http"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/db"
	"github.com/parley-chat/parley/internal/llm"
	"github.com/parley-chat/parley/internal/rag"
	"github.com/parley-chat/parley/internal/search"
	"github.com/parley-chat/parley/internal/tools"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err), zap.String("dbPath", cfg.DBPath))
	}
	defer database.Close()

	embedFn := chromem.NewEmbeddingFuncOpenAICompat(
		cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModel, nil)
	retriever, err := rag.New(cfg.DataDir, embedFn, logger)
	if err != nil {
		logger.Fatal("failed to initialize vector store", zap.Error(err))
	}

	searchProviders := []search.Provider{search.NewDuckDuckGo()}
	if cfg.SerperAPIKey != "" {
		searchProviders = append([]search.Provider{search.NewSerper(cfg.SerperAPIKey)}, searchProviders...)
	}
	aggregator := search.NewAggregator(logger, searchProviders...)

	horde := tools.NewHordeClient(cfg.HordeBaseURL, cfg.HordeAPIKey, logger)
	registry := tools.NewRegistry(logger)
	registry.Register(tools.GenerateImage, horde.Handler)
	registry.Register(tools.WebSearch, tools.WebSearchHandler(aggregator))

	primary, err := llm.NewOpenAIProvider("primary", cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.PrimaryModel, 0.7)
	if err != nil {
		logger.Fatal("failed to initialize primary provider", zap.Error(err))
	}
	secondary, err := llm.NewOpenAIProvider("secondary", cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.SecondaryModel, 0.7)
	if err != nil {
		logger.Fatal("failed to initialize secondary provider", zap.Error(err))
	}
	tertiary, err := llm.NewOpenAIProvider("tertiary", cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.TertiaryModel, 0.7)
	if err != nil {
		logger.Fatal("failed to initialize tertiary provider", zap.Error(err))
	}
	cheap, err := llm.NewOpenAIProvider("classifier", cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.ClassifierModel, 0)
	if err != nil {
		logger.Fatal("failed to initialize classifier provider", zap.Error(err))
	}

	gateway := llm.NewGateway(
		[]llm.Provider{primary, secondary, tertiary},
		[]llm.Provider{secondary, tertiary},
		registry, logger)
	classifier := llm.NewClassifier(cheap, logger)
	titler := llm.NewTitleGenerator(cheap, logger)

	orchestrator := chat.NewOrchestrator(
		database, gateway, classifier, titler, retriever, aggregator, registry,
		logger, cfg.HistoryWindow, cfg.HistoryTokens, cfg.RetrievalTimeout)

	authService := auth.NewService(database, cfg.JWTSecret, cfg.TokenTTL)
	authHandler := auth.NewHandler(authService, database, logger)
	apiHandler := api.NewHandler(database, retriever, cfg.UploadDir, logger)
	wsHandler := chat.NewHandler(orchestrator, authService, logger)

	authed := authHandler.Middleware

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.Handle("GET /api/auth/me", authed(http.HandlerFunc(authHandler.Me)))
	mux.Handle("POST /api/sessions", authed(http.HandlerFunc(apiHandler.CreateSession)))
	mux.Handle("GET /api/sessions", authed(http.HandlerFunc(apiHandler.ListSessions)))
	mux.Handle("GET /api/sessions/{sessionID}/messages", authed(http.HandlerFunc(apiHandler.ListMessages)))
	mux.Handle("POST /api/upload", authed(http.HandlerFunc(apiHandler.Upload)))
	mux.HandleFunc("GET /ws/{sessionID}", wsHandler.ServeWS)
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(cfg.UploadDir))))

	logger.Info("starting server", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
