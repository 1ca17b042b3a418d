package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/zapdesk/zapdesk/internal/assign"
	"github.com/zapdesk/zapdesk/internal/deal"
	"github.com/zapdesk/zapdesk/internal/dedup"
	"github.com/zapdesk/zapdesk/internal/ingest"
	"github.com/zapdesk/zapdesk/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth(opts.DB))
	if opts.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}

	router.POST("/webhooks/:channel", handleWebhook(opts.DB, opts.Orchestrator, opts.Log))
	router.POST("/conversations/:id/transfer", handleTransfer(opts.DB, opts.Scheduler))
	router.POST("/conversations/:id/close", handleCloseConversation(opts.DB))
	router.POST("/deals/:id/close", handleCloseDeal(opts.DB))
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// webhookPayload is the normalized inbound shape shared by all channels.
// Transport-specific adapters translate provider callbacks into this form.
type webhookPayload struct {
	Contact struct {
		ID    string `json:"id" binding:"required"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Email string `json:"email"`
	} `json:"contact" binding:"required"`
	Message struct {
		Kind              string `json:"kind"`
		Text              string `json:"text"`
		ProviderMessageID string `json:"provider_message_id"`
		MediaURL          string `json:"media_url"`
		ContentHash       string `json:"content_hash"`
		FileName          string `json:"file_name"`
		FileSize          int64  `json:"file_size"`
		DurationSeconds   int    `json:"duration_seconds"`
	} `json:"message" binding:"required"`
}

func handleWebhook(db *gorm.DB, orch *ingest.Orchestrator, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := c.Param("channel")
		if !validChannel(channel) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel"})
			return
		}

		var payload webhookPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		conv, err := ensureConversation(c.Request.Context(), db, channel, payload)
		if err != nil {
			log.WithError(err).Error("webhook conversation upsert failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "conversation upsert failed"})
			return
		}

		res, err := orch.Handle(c.Request.Context(), ingest.Inbound{
			ConversationID: conv.ID,
			Text:           payload.Message.Text,
			Artifact:       artifactFromPayload(payload),
		})
		if err != nil {
			log.WithError(err).WithField("conversation_id", conv.ID).Error("ingestion failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ingestion failed"})
			return
		}

		status := http.StatusCreated
		if res.Duplicate {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{
			"conversation_id": conv.ID,
			"message_id":      res.MessageID,
			"duplicate":       res.Duplicate,
			"unrouted":        res.Unrouted,
			"team_id":         res.TeamID,
			"agent_id":        res.AgentID,
			"deal_id":         res.DealID,
		})
	}
}

type transferPayload struct {
	AgentID uint `json:"agent_id" binding:"required"`
}

func handleTransfer(db *gorm.DB, scheduler *assign.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload transferPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var conv models.Conversation
		if err := db.First(&conv, "id = ?", c.Param("id")).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		if conv.TeamID == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "conversation is not routed yet"})
			return
		}

		previous := conv.AgentID
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := scheduler.AssignManual(c.Request.Context(), tx, conv.ID, *conv.TeamID, payload.AgentID); err != nil {
				return err
			}
			if previous != nil && *previous != payload.AgentID {
				if err := assign.Release(tx, *previous); err != nil {
					return err
				}
			}
			return tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(map[string]interface{}{
				"agent_id":      payload.AgentID,
				"pending_claim": false,
			}).Error
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID, "agent_id": payload.AgentID})
	}
}

func handleCloseConversation(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var conv models.Conversation
		if err := db.First(&conv, "id = ?", c.Param("id")).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		if conv.Status == models.ConversationClosed {
			c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID, "status": conv.Status})
			return
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			if conv.AgentID != nil {
				if err := assign.Release(tx, *conv.AgentID); err != nil {
					return err
				}
			}
			return tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(map[string]interface{}{
				"status":        models.ConversationClosed,
				"pending_claim": false,
			}).Error
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID, "status": models.ConversationClosed})
	}
}

type closeDealPayload struct {
	Status string `json:"status" binding:"required"`
}

func handleCloseDeal(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload closeDealPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := deal.Close(db, c.Param("id"), payload.Status); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deal_id": c.Param("id"), "status": payload.Status})
	}
}

func validChannel(channel string) bool {
	switch channel {
	case models.ChannelWhatsApp, models.ChannelFacebook, models.ChannelInstagram,
		models.ChannelEmail, models.ChannelSMS:
		return true
	}
	return false
}

// ensureConversation upserts the contact and finds or creates the open
// conversation for it on the channel.
func ensureConversation(ctx context.Context, db *gorm.DB, channel string, payload webhookPayload) (models.Conversation, error) {
	db = db.WithContext(ctx)
	contact := models.Contact{
		ID:    payload.Contact.ID,
		Name:  payload.Contact.Name,
		Phone: payload.Contact.Phone,
		Email: payload.Contact.Email,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "phone", "email"}),
	}).Create(&contact).Error
	if err != nil {
		return models.Conversation{}, err
	}

	var conv models.Conversation
	err = db.Where("contact_id = ? AND channel = ? AND status = ?",
		contact.ID, channel, models.ConversationOpen).First(&conv).Error
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Conversation{}, err
	}

	conv = models.Conversation{
		ID:        uuid.NewString(),
		ContactID: contact.ID,
		Channel:   channel,
		Status:    models.ConversationOpen,
	}
	if err := db.Create(&conv).Error; err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// artifactFromPayload builds the dedup artifact for the message kind.
func artifactFromPayload(payload webhookPayload) dedup.Artifact {
	m := payload.Message
	switch m.Kind {
	case dedup.KindImage:
		return dedup.NewImage(m.ProviderMessageID, m.MediaURL, m.ContentHash, m.FileName, m.FileSize)
	case dedup.KindAudio:
		return dedup.NewAudio(m.ProviderMessageID, m.MediaURL, m.ContentHash, m.FileName, m.FileSize)
	case dedup.KindVideo:
		return dedup.NewVideo(m.ProviderMessageID, m.MediaURL, m.ContentHash, m.FileName, m.FileSize)
	case dedup.KindDocument:
		return dedup.NewDocument(m.ProviderMessageID, m.MediaURL, m.ContentHash, m.FileName, m.FileSize)
	case dedup.KindVoiceNote:
		return dedup.VoiceNote{MediaURL: m.MediaURL, DurationSeconds: m.DurationSeconds}
	default:
		return dedup.Text{ProviderMessageID: m.ProviderMessageID, Body: m.Text}
	}
}
