package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/pipeline"
	"messaging-service/internal/presence"
)

func setupPresenceRouter(asUser int) (*gin.Engine, *presence.Store) {
	gin.SetMode(gin.TestMode)

	store := presence.NewStore(30*time.Minute, 2*time.Minute)
	handler := NewPresenceHandler(pipeline.Default(), store, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, asUser)
		c.Next()
	})
	r.PUT("/presence", handler.UpdatePresence)
	r.PUT("/presence/status", handler.SetStatus)
	r.GET("/presence/online", handler.ListOnline)
	r.GET("/presence/:user_id", handler.GetPresence)
	r.POST("/presence/bulk", handler.GetPresenceMany)
	return r, store
}

func TestUpdatePresenceRoundTrip(t *testing.T) {
	router, _ := setupPresenceRouter(1)

	rec := doJSON(t, router, http.MethodPut, "/presence", gin.H{
		"conn_id": "phone",
		"online":  true,
		"device":  "ios",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/presence/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var agg models.AggregatedPresence
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&agg))
	assert.Equal(t, models.StatusOnline, agg.Status)
	assert.Equal(t, 1, agg.Connections)
}

func TestUpdatePresenceOffline(t *testing.T) {
	router, store := setupPresenceRouter(1)
	store.UpdateConnection(1, "phone", true, "ios")

	rec := doJSON(t, router, http.MethodPut, "/presence", gin.H{
		"conn_id": "phone",
		"online":  false,
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.StatusOffline, store.GetAggregatedPresence(1).Status)
}

func TestSetStatusOverride(t *testing.T) {
	router, store := setupPresenceRouter(1)
	store.UpdateConnection(1, "phone", true, "ios")

	rec := doJSON(t, router, http.MethodPut, "/presence/status", gin.H{"status": "busy"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.StatusBusy, store.GetAggregatedPresence(1).Status)

	// Setting online clears the override rather than storing it.
	rec = doJSON(t, router, http.MethodPut, "/presence/status", gin.H{"status": "online"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.StatusOnline, store.GetAggregatedPresence(1).Status)
}

func TestSetStatusRejectsUnknown(t *testing.T) {
	router, _ := setupPresenceRouter(1)

	rec := doJSON(t, router, http.MethodPut, "/presence/status", gin.H{"status": "invisible"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPresenceManyIncludesUnknownUsers(t *testing.T) {
	router, store := setupPresenceRouter(1)
	store.UpdateConnection(2, "phone", true, "ios")

	rec := doJSON(t, router, http.MethodPost, "/presence/bulk", gin.H{"user_ids": []int{2, 99}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Presence map[string]models.AggregatedPresence `json:"presence"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Presence, 2)
	assert.Equal(t, models.StatusOnline, resp.Presence["2"].Status)
	assert.Equal(t, models.StatusOffline, resp.Presence["99"].Status)
}

func TestListOnline(t *testing.T) {
	router, store := setupPresenceRouter(1)
	store.UpdateConnection(3, "a", true, "web")
	store.UpdateConnection(2, "b", true, "ios")

	rec := doJSON(t, router, http.MethodGet, "/presence/online", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Users []models.AggregatedPresence `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Users, 2)
	assert.Equal(t, 2, resp.Users[0].UserID)
	assert.Equal(t, 3, resp.Users[1].UserID)
}
