package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"modelgate/internal/config"
	"modelgate/internal/gateway"
	"modelgate/internal/logging"
	"modelgate/internal/provider"
	"modelgate/internal/provider/gemini"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	providerName := flag.String("provider", "", "Provider entry from the config to use")
	model := flag.String("model", "", "Model id")
	prompt := flag.String("prompt", "", "User prompt")
	system := flag.String("system", "", "Optional system instruction")
	filePath := flag.String("file", "", "Attach a local file (image, audio or pdf)")
	thinking := flag.Bool("thinking", false, "Enable extended reasoning")
	noStream := flag.Bool("no-stream", false, "Disable streaming output")
	listModels := flag.Bool("list-models", false, "List available models and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	manager, err := config.NewManager(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	defer manager.Close()

	cfg := manager.Get()
	if *debug {
		cfg.Debug = true
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	if *providerName == "" {
		log.Fatal("-provider is required")
	}
	registry := gateway.NewRegistry(manager)
	backend, err := registry.Provider(*providerName)
	if err != nil {
		log.WithError(err).Fatal("failed to build provider")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *listModels {
		runListModels(ctx, backend)
		return
	}

	if *model == "" || *prompt == "" {
		log.Fatal("-model and -prompt are required")
	}

	messages, err := buildMessages(ctx, backend, *system, *prompt, *filePath)
	if err != nil {
		log.WithError(err).Fatal("failed to build request")
	}
	params := provider.Params{ThinkingEnabled: *thinking}

	var result provider.Result
	if *noStream {
		result = backend.Generate(ctx, messages, *model, params)
		if result.Success {
			fmt.Println(result.Content)
		}
	} else {
		result = backend.GenerateStream(ctx, messages, *model, params, func(ev provider.EventType, payload any) {
			switch ev {
			case provider.EventText:
				fmt.Print(payload.(string))
			case provider.EventThinking:
				if cfg.Debug {
					fmt.Fprint(os.Stderr, payload.(string))
				}
			case provider.EventDone:
				fmt.Println()
			}
		})
	}

	if !result.Success {
		log.WithFields(log.Fields{
			"error":   result.Error,
			"retries": result.RetryCount,
		}).Fatal("generation failed")
	}
	if result.Usage != nil {
		log.WithFields(log.Fields{
			"prompt_tokens":     result.Usage.PromptTokens,
			"completion_tokens": result.Usage.CompletionTokens,
			"estimated":         result.Usage.Estimated,
		}).Info("generation complete")
	}
}

func runListModels(ctx context.Context, backend provider.Provider) {
	models, err := backend.ListModels(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to list models")
	}
	for _, m := range models {
		line := m.ID
		if m.Thinking {
			line += " (thinking)"
		}
		if m.ContextLength > 0 {
			line += fmt.Sprintf(" ctx=%d", m.ContextLength)
		}
		fmt.Println(line)
	}
}

// buildMessages assembles the conversation, attaching a local file either
// inline or, for the native backend above the inline threshold, through the
// Files API.
func buildMessages(ctx context.Context, backend provider.Provider, system, prompt, filePath string) ([]provider.Message, error) {
	var messages []provider.Message
	if system != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: system})
	}

	if filePath == "" {
		messages = append(messages, provider.Message{Role: provider.RoleUser, Content: prompt})
		return messages, nil
	}

	mimeType := mime.TypeByExtension(filepath.Ext(filePath))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}

	var filePart provider.Part
	if g, ok := backend.(*gemini.Provider); ok && gemini.NeedsUpload(info.Size()) {
		handle, err := g.UploadFile(ctx, filePath, mimeType)
		if err != nil {
			return nil, err
		}
		filePart = provider.Part{
			Type:     provider.PartFileData,
			FileData: &provider.FileData{MIMEType: handle.MIMEType, FileURI: handle.URI},
		}
	} else {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, err
		}
		encoded := base64.StdEncoding.EncodeToString(data)
		if strings.HasPrefix(mimeType, "image/") {
			filePart = provider.Part{
				Type:     provider.PartImageURL,
				ImageURL: "data:" + mimeType + ";base64," + encoded,
			}
		} else {
			filePart = provider.Part{
				Type:       provider.PartInlineData,
				InlineData: &provider.InlineData{MIMEType: mimeType, Data: encoded},
			}
		}
	}

	messages = append(messages, provider.Message{
		Role: provider.RoleUser,
		Parts: []provider.Part{
			{Type: provider.PartText, Text: prompt},
			filePart,
		},
	})
	return messages, nil
}
