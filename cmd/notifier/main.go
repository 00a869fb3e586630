package main

import (
	"context"
	"github.com/ariefcatur/go-rifa/internal/config"
	kafkax "github.com/ariefcatur/go-rifa/internal/kafka"
	"github.com/ariefcatur/go-rifa/internal/logging"
	"github.com/ariefcatur/go-rifa/internal/notify"
	"github.com/ariefcatur/go-rifa/internal/redisx"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-notifier"
	log := logging.New(service, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}

	// Telegram, or log lines when no bot is configured
	var sender notify.Sender = notify.LogSender{Log: log.WithField("component", "sender")}
	if cfg.TelegramToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			log.WithError(err).Fatal("telegram")
		}
		log.WithField("bot", bot.Self.UserName).Info("telegram authorized")
		sender = bot
	}

	svc := &notify.Service{
		Sender: sender,
		ChatID: cfg.TelegramChatID,
		Log:    log.WithField("component", "notify"),
	}

	// Redis dedup (optional)
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		svc.Dedup = &redisx.Dedup{R: rdb, Service: service}
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, notify.Topics, cfg.NotifierWorkers, log.WithField("component", "consumer"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.WithFields(map[string]any{
			"group": cfg.NotifierGroup, "topics": notify.Topics, "workers": cfg.NotifierWorkers,
		}).Info("notifier consumer started")
		if err := cons.Start(ctx, svc.HandleEvent); err != nil {
			log.WithError(err).Error("consumer exit")
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer...")
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn("consumer did not stop in time")
	}
}
