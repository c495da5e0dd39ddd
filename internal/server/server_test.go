package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabletop/internal/game"
	"tabletop/internal/session"
)

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestListGames(t *testing.T) {
	env := setupTestEnv(t)

	status, body := getBody(t, env.ts.URL+"/api/games")
	require.Equal(t, http.StatusOK, status)

	var games []game.GameInfo
	require.NoError(t, json.Unmarshal([]byte(body), &games))
	names := make([]string, len(games))
	for i, g := range games {
		names[i] = g.Name
	}
	assert.Equal(t, []string{"skirmish", "tictactoe"}, names)
}

func TestCreateSession(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"tictactoe", `{"gameType":"tictactoe","playerId":"alice"}`, http.StatusCreated},
		{"skirmish", `{"gameType":"skirmish","playerId":"alice"}`, http.StatusCreated},
		{"padded fields", `{"gameType":" tictactoe ","playerId":" alice "}`, http.StatusCreated},
		{"missing fields", `{"gameType":"","playerId":""}`, http.StatusBadRequest},
		{"invalid body", "not json", http.StatusBadRequest},
		{"unknown game", `{"gameType":"chess","playerId":"alice"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			resp := postJSON(t, env.ts.URL+"/api/sessions", tt.body)
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.status != http.StatusCreated {
				return
			}

			var created createSessionResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
			require.NotEmpty(t, created.Code)

			info := getSessionInfo(t, env.ts, created.Code)
			assert.Equal(t, []string{"alice"}, info.Players)
			assert.Equal(t, "alice", info.HostID)
			assert.Equal(t, session.StatusWaiting, info.Status)
		})
	}
}

func TestGetSessionNotFound(t *testing.T) {
	env := setupTestEnv(t)

	status, body := getBody(t, env.ts.URL+"/api/sessions/nonexistent")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body, session.ErrNotFound.Error())
}

func TestStartSession(t *testing.T) {
	env := setupTestEnv(t)
	sess, err := env.mgr.Create("tictactoe")
	require.NoError(t, err)
	require.NoError(t, sess.AddPlayer("alice"))
	require.NoError(t, sess.AddPlayer("bob"))

	resp := postJSON(t, env.ts.URL+"/api/sessions/"+sess.Code+"/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	info := getSessionInfo(t, env.ts, sess.Code)
	assert.Equal(t, session.StatusPlaying, info.Status)
	assert.NotEmpty(t, info.MatchID, "match id assigned on start")

	again := postJSON(t, env.ts.URL+"/api/sessions/"+sess.Code+"/start", "")
	assert.Equal(t, http.StatusBadRequest, again.StatusCode)
}

func TestStartSessionNotFound(t *testing.T) {
	env := setupTestEnv(t)

	resp := postJSON(t, env.ts.URL+"/api/sessions/nonexistent/start", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartSessionNotEnoughPlayers(t *testing.T) {
	env := setupTestEnv(t)
	code := createSessionViaAPI(t, env.ts, "tictactoe", "alice")

	resp := postJSON(t, env.ts.URL+"/api/sessions/"+code+"/start", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), session.ErrNotEnoughPlayers.Error())
}

func TestStaticFileServing(t *testing.T) {
	env := setupTestEnv(t)

	status, body := getBody(t, env.ts.URL+"/index.html")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "test")
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestEnv(t)
	createSessionViaAPI(t, env.ts, "tictactoe", "alice")

	status, body := getBody(t, env.ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `tabletop_sessions{status="waiting"} 1`)
}
