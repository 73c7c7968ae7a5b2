package publisher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liuproxy_collector/internal/shared/types"
)

const testToken = "123456:TEST-token"

type upload struct {
	chatID   string
	caption  string
	filename string
	content  string
}

// fakeBotAPI serves the two Bot API methods the publisher needs.
type fakeBotAPI struct {
	mu       sync.Mutex
	uploads  []upload
	failSend bool
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/bot" + testToken + "/getMe":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"collector","username":"collector_bot"}}`)
		case "/bot" + testToken + "/sendDocument":
			if f.failSend {
				_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
				return
			}
			require.NoError(t, r.ParseMultipartForm(1<<20))
			file, header, err := r.FormFile("document")
			require.NoError(t, err)
			defer file.Close()
			content, err := io.ReadAll(file)
			require.NoError(t, err)

			f.mu.Lock()
			f.uploads = append(f.uploads, upload{
				chatID:   r.FormValue("chat_id"),
				caption:  r.FormValue("caption"),
				filename: header.Filename,
				content:  string(content),
			})
			f.mu.Unlock()
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":1700000000,"chat":{"id":-1001234567890,"type":"channel"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprintf(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	})
}

func writeRegionFile(t *testing.T, region, content string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), region)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTelegramPublisher_SendFile(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	p, err := NewTelegramPublisher(testToken, "-1001234567890", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)

	path := writeRegionFile(t, "US", "vless://abc@1.2.3.4:443\nvless://q@1.2.3.4:8443\n")
	require.NoError(t, p.SendFile(context.Background(), path))

	require.Len(t, api.uploads, 1)
	got := api.uploads[0]
	assert.Equal(t, "-1001234567890", got.chatID)
	assert.Equal(t, "US configs (2 lines)", got.caption)
	assert.Equal(t, "config.txt", got.filename)
	assert.Equal(t, "vless://abc@1.2.3.4:443\nvless://q@1.2.3.4:8443\n", got.content)
}

func TestTelegramPublisher_ChannelUsername(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	p, err := NewTelegramPublisher(testToken, "my_channel", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	require.NoError(t, p.SendFile(context.Background(), writeRegionFile(t, "DE", "ss://x@5.6.7.8:80\n")))

	require.Len(t, api.uploads, 1)
	assert.Equal(t, "@my_channel", api.uploads[0].chatID)
}

func TestTelegramPublisher_SendFailure(t *testing.T) {
	api := &fakeBotAPI{failSend: true}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	p, err := NewTelegramPublisher(testToken, "-100", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)

	err = p.SendFile(context.Background(), writeRegionFile(t, "US", "vless://abc@1.2.3.4:443\n"))
	assert.ErrorContains(t, err, "chat not found")
}

func TestTelegramPublisher_MissingFile(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	p, err := NewTelegramPublisher(testToken, "-100", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)

	err = p.SendFile(context.Background(), filepath.Join(t.TempDir(), "XX", "config.txt"))
	assert.Error(t, err)
	assert.Empty(t, api.uploads)
}

func TestTelegramPublisher_CancelledContext(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	p, err := NewTelegramPublisher(testToken, "-100", srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.SendFile(ctx, writeRegionFile(t, "US", "x\n")), context.Canceled)
	assert.Empty(t, api.uploads)
}

func TestNewTelegramPublisher_InvalidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	_, err := NewTelegramPublisher("bad", "-100", srv.URL+"/bot%s/%s", srv.Client())
	assert.ErrorContains(t, err, "failed to initialize Telegram bot")

	_, err = NewTelegramPublisher(testToken, " ", srv.URL+"/bot%s/%s", srv.Client())
	assert.ErrorIs(t, err, ErrEmptyChannel)
}

func TestNewFromConfig_Disabled(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.PublishConf.Enabled = false
	p, err := NewFromConfig(cfg)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCaption(t *testing.T) {
	assert.Equal(t, "US configs (3 lines)", Caption(filepath.Join("configs", "US", "config.txt"), 3))
	assert.Equal(t, "all_configs configs (10 lines)", Caption(filepath.Join("all", "all_configs.txt"), 10))
}
