package morisslave

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*MorisSlave, *API) {
	t.Helper()
	bot, _ := newTestBot(t)
	bot.startedAt = time.Now()

	api, err := newAPI(bot, bot.config.API)
	require.NoError(t, err)
	return bot, api
}

func apiGet(t *testing.T, api *API, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	return w
}

func TestAPIHealthCheck(t *testing.T) {
	t.Parallel()
	_, api := newTestAPI(t)

	w := apiGet(t, api, apiHealthCheck)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["connected"])
	assert.NotEmpty(t, body["started_at"])
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))
}

func TestAPIGetSubjects(t *testing.T) {
	t.Parallel()
	bot, api := newTestAPI(t)

	_, err := bot.db.Create(
		context.Background(),
		&Subject{
			Name:        "Biology",
			Emoji:       "🧬",
			ChannelID:   "chan-1",
			ChannelName: "🧬-Biology",
			RoleID:      "role-1",
			RoleName:    "biology-helper",
			RoleColor:   "#00FF00",
			CreatedBy:   "user-1",
		},
	)
	require.NoError(t, err)

	w := apiGet(t, api, apiPathSubjects)
	require.Equal(t, http.StatusOK, w.Code)

	var subjects []Subject
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &subjects))
	require.Len(t, subjects, 1)
	assert.Equal(t, "Biology", subjects[0].Name)
	assert.Equal(t, "biology-helper", subjects[0].RoleName)
}

func TestAPIGetUsers(t *testing.T) {
	t.Parallel()
	bot, api := newTestAPI(t)

	_, _, err := bot.db.GetOrCreateUser(
		context.Background(),
		discordgo.User{ID: "user-1", Username: "redrozio"},
	)
	require.NoError(t, err)

	w := apiGet(t, api, apiPathUsers)
	require.Equal(t, http.StatusOK, w.Code)

	var users []User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "user-1", users[0].ID)
	assert.Zero(t, users[0].Points)
}

func TestAPIRequestMetrics(t *testing.T) {
	t.Parallel()
	_, api := newTestAPI(t)

	for i := 0; i < 3; i++ {
		apiGet(t, api, apiHealthCheck)
	}

	api.requestMetricsMu.Lock()
	defer api.requestMetricsMu.Unlock()
	assert.Equal(t, 3, api.requestMetrics["GET "+apiHealthCheck])
}
