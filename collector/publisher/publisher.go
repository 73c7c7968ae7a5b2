package publisher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"liuproxy_collector/collector/storage"
	"liuproxy_collector/internal/shared/logger"
	"liuproxy_collector/internal/shared/types"
)

// ErrEmptyChannel is returned when no channel id is configured.
var ErrEmptyChannel = errors.New("empty channel id")

// Publisher 将生成的文件推送到外部频道。
type Publisher interface {
	SendFile(ctx context.Context, path string) error
}

// TelegramPublisher uploads files with sendDocument to one channel.
type TelegramPublisher struct {
	bot      *tgbotapi.BotAPI
	chatID   int64
	username string
}

// NewTelegramPublisher connects to the Bot API (getMe) and prepares uploads
// to channelID, which is either a numeric chat id or an @username. An empty
// apiEndpoint uses the public Telegram endpoint.
func NewTelegramPublisher(token, channelID, apiEndpoint string, client *http.Client) (*TelegramPublisher, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, ErrEmptyChannel
	}
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}

	p := &TelegramPublisher{bot: bot}
	if id, err := strconv.ParseInt(channelID, 10, 64); err == nil {
		p.chatID = id
	} else {
		p.username = "@" + strings.TrimPrefix(channelID, "@")
	}
	return p, nil
}

// NewFromConfig builds a publisher from the publish section and secrets.
// It returns (nil, nil) when publishing is disabled.
func NewFromConfig(cfg *types.Config) (Publisher, error) {
	if !cfg.PublishConf.Enabled {
		return nil, nil
	}
	p, err := NewTelegramPublisher(cfg.Secrets.TelegramToken, cfg.Secrets.ChannelID, cfg.PublishConf.APIEndpoint, nil)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *TelegramPublisher) SendFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := logger.WithComponent("Collector/Publisher")

	lines, err := countLines(path)
	if err != nil {
		return fmt.Errorf("count lines in %s: %w", path, err)
	}

	doc := tgbotapi.NewDocument(p.chatID, tgbotapi.FilePath(path))
	if p.username != "" {
		doc.ChannelUsername = p.username
	}
	doc.Caption = Caption(path, lines)

	if _, err := p.bot.Send(doc); err != nil {
		return fmt.Errorf("send %s: %w", path, err)
	}
	l.Info().Str("path", path).Int("lines", lines).Msg("File sent successfully.")
	return nil
}

// Caption formats the document caption, e.g. "US configs (12 lines)". Region
// files are labelled with their region folder, other files with their base name.
func Caption(path string, lines int) string {
	base := filepath.Base(path)
	label := strings.TrimSuffix(base, filepath.Ext(base))
	if base == storage.RegionFileName {
		label = filepath.Base(filepath.Dir(path))
	}
	return fmt.Sprintf("%s configs (%d lines)", label, lines)
}

func countLines(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	count := 0
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}
