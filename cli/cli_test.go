package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videosync/internal/store"
	"videosync/internal/vault"
	"videosync/oauth"
	"videosync/storage"
	"videosync/trigger"
	"videosync/youtube"
)

const testSecret = "cli-test-secret"

// workspace isolates config discovery and the store file in a temp dir.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("NVM_STORAGE_PATH", filepath.Join(dir, "store.json"))
	t.Setenv("NVM_VAULT_SECRETS", testSecret)
	t.Setenv("NVM_LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDurationCmd(t *testing.T) {
	workspace(t)

	tests := []struct {
		name    string
		iso     string
		want    string
		wantErr bool
	}{
		{name: "hours", iso: "PT1H2M3S", want: "1:02:03\t3723s\tvideo\n"},
		{name: "short", iso: "PT45S", want: "0:45\t45s\tshort\n"},
		{name: "boundary", iso: "PT1M", want: "1:00\t60s\tshort\n"},
		{name: "days", iso: "P1DT1S", want: "24:00:01\t86401s\tvideo\n"},
		{name: "invalid", iso: "ten minutes", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, "duration", tt.iso)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestConfigureAndStatus(t *testing.T) {
	workspace(t)

	out, err := run(t, "status")
	require.NoError(t, err)
	assert.Regexp(t, `Session:\s+unconfigured`, out)
	assert.Regexp(t, `Channel:\s+\(not set\)`, out)
	assert.Regexp(t, `Last sync:\s+never`, out)
	assert.Regexp(t, `Auto sync:\s+off`, out)

	out, err = run(t, "configure",
		"--client-id", "client-123",
		"--client-secret", "shh",
		"--channel-id", "UCchannel",
		"--auto-sync",
		"--frequency", "daily",
	)
	require.NoError(t, err)
	assert.Equal(t, "Settings saved.\n", out)

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Regexp(t, `Session:\s+configured`, out)
	assert.Regexp(t, `Channel:\s+UCchannel`, out)
	assert.Regexp(t, `Auto sync:\s+daily`, out)
	assert.Regexp(t, `Stored videos:\s+0`, out)

	_, err = run(t, "configure", "--auto-sync=false")
	require.NoError(t, err)
	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Regexp(t, `Auto sync:\s+off`, out)
}

func TestConfigureErrors(t *testing.T) {
	workspace(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no flags", args: nil, want: "nothing to configure"},
		{name: "bad frequency", args: []string{"--frequency", "weekly"}, want: "unknown interval"},
		{name: "secret without id", args: []string{"--client-secret", "shh"}, want: "client id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"configure"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMissingVaultSecrets(t *testing.T) {
	workspace(t)
	t.Setenv("NVM_VAULT_SECRETS", "")

	_, err := run(t, "status")
	require.Error(t, err)
	assert.ErrorIs(t, err, vault.ErrNoKeyMaterial)
}

func TestAuthURLAndCallback(t *testing.T) {
	workspace(t)

	_, err := run(t, "auth", "url")
	assert.ErrorIs(t, err, oauth.ErrNotConfigured)

	_, err = run(t, "configure", "--client-id", "client-123", "--client-secret", "shh")
	require.NoError(t, err)

	out, err := run(t, "auth", "url")
	require.NoError(t, err)
	u, err := url.Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", u.Host)
	q := u.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, oauth.ReadonlyScope, q.Get("scope"))
	assert.Len(t, q.Get("state"), 32)

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Regexp(t, `Session:\s+authorization_pending`, out)

	_, err = run(t, "auth", "callback", "--code", "abc", "--state", "not-the-state")
	assert.ErrorIs(t, err, oauth.ErrInvalidState)

	// The failed attempt consumed the state.
	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Regexp(t, `Session:\s+configured`, out)
}

// seedSession writes an authenticated session straight into the store.
func seedSession(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewJSONStore(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := vault.New(testSecret)
	require.NoError(t, err)
	secret, err := v.Encrypt("shh")
	require.NoError(t, err)
	access, err := v.Encrypt("live-token")
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, storage.KeyClientID, "client-123"))
	require.NoError(t, s.Set(ctx, storage.KeyClientSecret, secret))
	require.NoError(t, s.Set(ctx, storage.KeyAccessToken, access))
	require.NoError(t, storage.SetTime(ctx, s, storage.KeyExpiresAt, time.Now().Add(time.Hour)))
	require.NoError(t, s.Set(ctx, storage.KeyChannelID, "UCchannel"))
}

func fakeYouTube(t *testing.T) *httptest.Server {
	t.Helper()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	item := func(id, published string) map[string]any {
		return map[string]any{"snippet": map[string]any{
			"title":       "Title " + id,
			"channelId":   "UCchannel",
			"publishedAt": published,
			"resourceId":  map[string]any{"kind": "youtube#video", "videoId": id},
		}}
	}
	video := func(id, duration, published string) map[string]any {
		return map[string]any{
			"id": id,
			"snippet": map[string]any{
				"title":       "Title " + id,
				"description": "About " + id,
				"channelId":   "UCchannel",
				"publishedAt": published,
				"tags":        []string{"go"},
			},
			"contentDetails": map[string]any{"duration": duration},
			"statistics":     map[string]any{"viewCount": "42", "likeCount": "4", "commentCount": "1"},
			"status":         map[string]any{"privacyStatus": "public"},
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/youtube/v3/channels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer live-token", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"items": []map[string]any{{
			"id":             "UCchannel",
			"contentDetails": map[string]any{"relatedPlaylists": map[string]any{"uploads": "UUchannel"}},
		}}})
	})
	mux.HandleFunc("/youtube/v3/playlistItems", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("part") == "id" {
			writeJSON(w, map[string]any{"items": []any{}})
			return
		}
		writeJSON(w, map[string]any{"items": []map[string]any{
			item("vidLong", "2024-05-30T10:00:00Z"),
			item("vidShort", "2024-05-29T10:00:00Z"),
		}})
	})
	mux.HandleFunc("/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"items": []map[string]any{
			video("vidLong", "PT12M5S", "2024-05-30T10:00:00Z"),
			video("vidShort", "PT30S", "2024-05-29T10:00:00Z"),
		}})
	})
	mux.HandleFunc("/youtube/v3/playlists", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"items": []any{}})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestSyncAndList(t *testing.T) {
	dir := workspace(t)
	seedSession(t, filepath.Join(dir, "store.json"))
	server := fakeYouTube(t)
	t.Setenv("NVM_YOUTUBE_ENDPOINT", server.URL+"/")

	out, err := run(t, "sync", "--json")
	require.NoError(t, err)
	var payload trigger.Payload
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, trigger.Payload{
		Success: true,
		Message: "Incremental sync completed: 2 new videos synced.",
		Count:   2,
	}, payload)

	out, err = run(t, "sync", "--full", "--max", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Full sync completed: 1 videos synced.")
	assert.Regexp(t, `0\s+1\s+0\s+1\s+yes`, out)

	out, err = run(t, "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Regexp(t, `^VIDEO ID\s+TITLE\s+DURATION\s+VIEWS\s+TYPE`, lines[0])
	assert.Regexp(t, `^vidLong\s+Title vidLong\s+12:05\s+42\s+`+string(youtube.TypeVideo), lines[1])
	assert.Regexp(t, `^vidShort\s+Title vidShort\s+0:30\s+42\s+`+string(youtube.TypeShort), lines[2])

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Regexp(t, `Session:\s+authenticated`, out)
	assert.Regexp(t, `Stored videos:\s+2`, out)
	assert.NotRegexp(t, `Last sync:\s+never`, out)
}

// lockedBuffer is a bytes.Buffer safe for a writer and a polling reader.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// serveInBackground runs the serve command until the test ends and returns
// its log output.
func serveInBackground(t *testing.T) *lockedBuffer {
	t.Helper()
	logs := &lockedBuffer{}
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(logs)
	root.SetArgs([]string{"serve", "--log-level", "info"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("serve did not stop")
		}
	})

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "Auto sync disabled")
	}, 5*time.Second, 10*time.Millisecond, "serve did not start: %s", logs)
	return logs
}

func TestCommandsWhileServing(t *testing.T) {
	dir := workspace(t)
	seedSession(t, filepath.Join(dir, "store.json"))
	server := fakeYouTube(t)
	t.Setenv("NVM_YOUTUBE_ENDPOINT", server.URL+"/")

	logs := serveInBackground(t)

	out, err := run(t, "sync", "--json")
	require.NoError(t, err, "sync while serve holds the store open")
	var payload trigger.Payload
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.True(t, payload.Success)
	assert.Equal(t, 2, payload.Count)

	_, err = run(t, "configure", "--auto-sync", "--frequency", "daily")
	require.NoError(t, err)

	// serve picks the new settings up on SIGHUP.
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "Auto sync scheduled")
	}, 5*time.Second, 10*time.Millisecond, "settings not reloaded: %s", logs)
	assert.Contains(t, logs.String(), "daily")

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Regexp(t, `Stored videos:\s+2`, out)
	assert.Regexp(t, `Auto sync:\s+daily`, out)
}

func TestSyncFailurePayload(t *testing.T) {
	workspace(t)

	out, err := run(t, "sync", "--json")
	require.Error(t, err)
	var payload trigger.Payload
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.False(t, payload.Success)
	assert.Equal(t, err.Error(), payload.Message)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ééééééé...", truncate(strings.Repeat("é", 20), 10))
}
