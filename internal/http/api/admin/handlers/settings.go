package handlers

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/investkar/ledger/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SettingsHandler reads and updates runtime settings.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// List returns every editable setting with its stored value, if any.
func (h *SettingsHandler) List(c *gin.Context) {
	out := make(map[string]json.RawMessage, len(settings.EditableKeys))
	for _, key := range settings.EditableKeys {
		if raw, ok := settings.DBConfigValue(key); ok {
			out[key] = raw
		} else {
			out[key] = json.RawMessage("null")
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"settings":   out,
		"updated_at": settings.DBConfigUpdatedAt(),
	})
}

type settingUpdateRequest struct {
	Value json.RawMessage `json:"value"`
}

// Update stores one setting and refreshes the in-memory snapshot.
func (h *SettingsHandler) Update(c *gin.Context) {
	key := strings.ToUpper(strings.TrimSpace(c.Param("key")))
	if !slices.Contains(settings.EditableKeys, key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown setting"})
		return
	}
	var body settingUpdateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || len(body.Value) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errSave := settings.SaveDBConfigValue(c.Request.Context(), h.db, key, body.Value); errSave != nil {
		log.WithError(errSave).Errorf("save setting %s", key)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	adminID, _ := readAdminIDFromContext(c)
	log.WithFields(log.Fields{"admin_id": adminID, "key": key}).Info("setting updated by operator")
	c.JSON(http.StatusOK, gin.H{"key": key, "value": body.Value})
}
