package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"mindnexus/internal/types"
	"mindnexus/pkg/auth"
	"mindnexus/pkg/chat"
	cfgPkg "mindnexus/pkg/config"
	"mindnexus/pkg/history"
	"mindnexus/pkg/ingest"
	"mindnexus/pkg/llm"
	"mindnexus/pkg/store"
	"mindnexus/pkg/store/disk"
	pgstore "mindnexus/pkg/store/pgvector"
	"mindnexus/pkg/voice"
	"mindnexus/server"
)

type flags struct {
	configPath string
	ingestPath string
	kbName     string
	serve      bool
	username   string
}

func main() {
	f := parseFlags()

	if err := run(f); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() flags {
	var f flags

	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.StringVar(&f.ingestPath, "ingest", "", "PDF file to ingest into a knowledge base, then exit")
	flag.StringVar(&f.kbName, "kb", "", "Knowledge base name (defaults to the ingested filename)")
	flag.BoolVar(&f.serve, "serve", false, "Start the HTTP/websocket server")
	flag.StringVar(&f.username, "user", "", "Username for the interactive chat loop")
	flag.Parse()

	return f
}

func run(f flags) error {
	cfg, err := cfgPkg.LoadConfig(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return fmt.Errorf("invalid configuration")
	}

	library, err := openLibrary(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize library store: %v", err)
	}
	defer library.Close()

	embedder, err := llm.NewEmbedder(llm.EmbedderConfig{
		Model:   cfg.Embedding.Model,
		BaseURL: cfg.Embedding.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	if f.ingestPath != "" {
		return runIngest(cfg, embedder, library, f)
	}

	histStore, err := history.NewStore(cfg.History.Root)
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %v", err)
	}

	chatEngine, err := llm.NewChatEngine(llm.ChatConfig{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
	}

	engine := chat.NewEngine(embedder, chatEngine, library, histStore, cfg.Retrieval.TopK)
	speaker, listener, transcriber := buildVoice(cfg)

	if f.serve {
		return runServer(cfg, engine, embedder, library, histStore, transcriber, speaker, listener)
	}

	return runChatLoop(cfg, engine, speaker, listener, f.username)
}

func openLibrary(cfg *cfgPkg.Config) (types.Library, error) {
	switch cfg.Library.Backend {
	case "pgvector":
		return pgstore.NewStore(pgstore.Config{
			ConnString: cfg.Library.URL,
			TableName:  cfg.Library.TableName,
			VectorDim:  cfg.Library.VectorDim,
		})
	default:
		return disk.NewStore(cfg.Library.Root)
	}
}

func buildVoice(cfg *cfgPkg.Config) (*voice.Speaker, *voice.Listener, types.Transcriber) {
	requestTimeout := time.Duration(cfg.Voice.RequestTimeout * float64(time.Second))

	var speaker *voice.Speaker
	if cfg.Voice.SpeechURL != "" {
		synth := voice.NewSpeechClient(cfg.Voice.SpeechURL, cfg.Voice.Voice, requestTimeout)
		speaker = voice.NewSpeaker(synth, &voice.ExecPlayer{Command: cfg.Voice.PlayerCommand})
	}

	var listener *voice.Listener
	var transcriber types.Transcriber
	if cfg.Voice.TranscribeURL != "" {
		tc := voice.NewTranscribeClient(cfg.Voice.TranscribeURL, requestTimeout)
		transcriber = tc
		listener = voice.NewListener(&voice.ExecRecorder{Command: cfg.Voice.RecordCommand}, tc)
	}

	return speaker, listener, transcriber
}

func runIngest(cfg *cfgPkg.Config, embedder types.Embedder, library types.Library, f flags) error {
	kbName := f.kbName
	if kbName == "" {
		kbName = ingest.BaseName(f.ingestPath)
	}

	color.Blue("\nIngesting %s into knowledge base %q\n", f.ingestPath, kbName)
	bar := getProgressBar(-1, "Embedding chunks...")

	pipeline := ingest.NewPipeline(embedder, library, ingest.Config{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		RateLimit:    cfg.Ingest.RateLimit,
		OnProgress: func(done, total int) {
			bar.ChangeMax(total)
			bar.Set(done)
		},
	})

	if err := pipeline.Ingest(context.Background(), f.ingestPath, kbName); err != nil {
		bar.Finish()
		return err
	}
	bar.Finish()
	color.Green("\n✓ Added knowledge base %q\n", kbName)
	return nil
}

func runServer(
	cfg *cfgPkg.Config,
	engine *chat.Engine,
	embedder types.Embedder,
	library types.Library,
	histStore types.HistoryStore,
	transcriber types.Transcriber,
	speaker *voice.Speaker,
	listener *voice.Listener,
) error {
	pipeline := ingest.NewPipeline(embedder, library, ingest.Config{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		RateLimit:    cfg.Ingest.RateLimit,
	})

	srv := server.New(
		auth.NewCredentialStore(cfg.Auth.Users),
		auth.NewTokenIssuer(cfg.Auth.JWTSecret),
		engine,
		pipeline,
		library,
		histStore,
		transcriber,
		speaker,
		listener,
		server.Config{
			UploadDir:     cfg.Ingest.UploadDir,
			ListenTimeout: time.Duration(cfg.Voice.ListenTimeout * float64(time.Second)),
		},
	)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take a while
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on :%s: %v", cfg.Server.Port, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %v", err)
	}
	log.Println("Server exited gracefully")
	return nil
}

func runChatLoop(cfg *cfgPkg.Config, engine *chat.Engine, speaker *voice.Speaker, listener *voice.Listener, username string) error {
	creds := auth.NewCredentialStore(cfg.Auth.Users)
	scanner := bufio.NewScanner(os.Stdin)

	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	if username == "" {
		userPrompt("Username: ")
		if !scanner.Scan() {
			return nil
		}
		username = strings.TrimSpace(scanner.Text())
	}
	userPrompt("Password: ")
	if !scanner.Scan() {
		return nil
	}
	password := strings.TrimSpace(scanner.Text())

	user, err := creds.Authenticate(username, password)
	if err != nil {
		return errors.New("invalid credentials")
	}

	session, err := engine.NewSession(user, speaker, listener)
	if err != nil {
		return fmt.Errorf("failed to start session: %v", err)
	}
	defer session.Close()

	color.Cyan("\nChat with your knowledge bases (type 'exit' to quit)")
	color.Cyan("Commands: /kb  /use <name>  /say  /stop  /mic")

	ctx := context.Background()
	var lastAnswer string

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if strings.ToLower(line) == "exit" {
			break
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			lastAnswer = handleCommand(ctx, cfg, session, line, lastAnswer)
			continue
		}

		spinner := getSpinner("Synthesizing answer...")
		answer, err := session.Ask(ctx, line)
		spinner.Finish()
		fmt.Print("\r")

		if err != nil {
			printAskError(err)
			continue
		}

		lastAnswer = answer.Content
		assistantPrompt("Assistant: %s\n", answer.Content)
	}

	return nil
}

func handleCommand(ctx context.Context, cfg *cfgPkg.Config, session *chat.Session, line, lastAnswer string) string {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/kb":
		infos, err := session.Engine().Library().List(ctx)
		if err != nil {
			color.Red("Failed to list knowledge bases: %v\n", err)
			return lastAnswer
		}
		if len(infos) == 0 {
			color.Yellow("No knowledge bases yet. Ingest a PDF first.\n")
			return lastAnswer
		}
		for _, info := range infos {
			marker := " "
			if info.Name == session.Selected() {
				marker = "*"
			}
			fmt.Printf(" %s %s (%d chunks)\n", marker, info.Name, info.Chunks)
		}

	case "/use":
		if len(fields) < 2 {
			color.Yellow("Usage: /use <name>\n")
			return lastAnswer
		}
		if err := session.SelectLibrary(ctx, fields[1]); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				color.Red("No knowledge base named %q\n", fields[1])
			} else {
				color.Red("Failed to open %q: %v\n", fields[1], err)
			}
			return lastAnswer
		}
		color.Green("Using knowledge base %q\n", fields[1])

	case "/say":
		if lastAnswer == "" {
			color.Yellow("Nothing to read yet.\n")
			return lastAnswer
		}
		session.Speak(lastAnswer)

	case "/stop":
		session.StopSpeaking()

	case "/mic":
		timeout := time.Duration(cfg.Voice.ListenTimeout * float64(time.Second))
		spinner := getSpinner("Listening...")
		text, err := session.Listen(ctx, timeout)
		spinner.Finish()
		fmt.Print("\r")
		if err != nil {
			switch {
			case errors.Is(err, voice.ErrNoInputDevice):
				color.Yellow("Microphone not found. Check your sound settings.\n")
			case errors.Is(err, voice.ErrRecognitionTimeout):
				color.Yellow("Didn't catch that, try again.\n")
			default:
				color.Yellow("Voice input unavailable.\n")
			}
			return lastAnswer
		}
		color.Blue("Heard: %s\n", text)
		answer, err := session.Ask(ctx, text)
		if err != nil {
			printAskError(err)
			return lastAnswer
		}
		color.Cyan("Assistant: %s\n", answer.Content)
		return answer.Content

	default:
		color.Yellow("Unknown command %s\n", fields[0])
	}
	return lastAnswer
}

func printAskError(err error) {
	var upstream *llm.UpstreamError
	switch {
	case errors.Is(err, chat.ErrNoLibrary):
		color.Yellow("Select a knowledge base first (/kb to list, /use <name> to pick).\n")
	case errors.As(err, &upstream):
		color.Red("Couldn't get an answer, please try again.\n")
	default:
		color.Red("Error: %v\n", err)
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
