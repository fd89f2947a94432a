package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/domain"
)

const auditPageSize = 50

// Read-only audit endpoints for operators. Delivery records and
// instance health never influence federation behavior from here.
func registerAuditRoutes(g *gin.Engine, database *db.DB) {
	g.GET("/audit/deliveries", func(c *gin.Context) {
		if activityIdStr := c.Query("activity"); activityIdStr != "" {
			activityId, err := uuid.Parse(activityIdStr)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid activity ID"})
				return
			}
			err, records := database.ReadDeliveriesByActivity(activityId)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read deliveries"})
				return
			}
			c.JSON(http.StatusOK, deliveryViews(records))
			return
		}

		inboxURI := c.Query("inbox")
		if inboxURI == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing activity or inbox parameter"})
			return
		}
		err, records := database.ReadDeliveriesByEndpoint(inboxURI, auditPageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read deliveries"})
			return
		}
		c.JSON(http.StatusOK, deliveryViews(records))
	})

	g.GET("/audit/activities", func(c *gin.Context) {
		actorURI := c.Query("actor")
		if actorURI == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing actor parameter"})
			return
		}
		err, activities := database.ReadActivitiesByActor(actorURI, auditPageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read activities"})
			return
		}

		views := make([]gin.H, 0, len(*activities))
		for _, activity := range *activities {
			views = append(views, gin.H{
				"id":         activity.Id.String(),
				"uri":        activity.URI,
				"kind":       string(activity.Kind),
				"actor_uri":  activity.ActorURI,
				"object_uri": activity.ObjectURI,
				"local":      activity.Local,
				"created_at": activity.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, views)
	})

	g.GET("/audit/instances", func(c *gin.Context) {
		err, instances := database.ReadUnreachableInstances()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read instances"})
			return
		}

		views := make([]gin.H, 0, len(*instances))
		for _, instance := range *instances {
			views = append(views, gin.H{
				"inbox_uri":             instance.InboxURI,
				"consecutive_exhausted": instance.ConsecutiveExhausted,
				"unreachable":           instance.Unreachable,
				"updated_at":            instance.UpdatedAt,
			})
		}
		c.JSON(http.StatusOK, views)
	})
}

func deliveryViews(records *[]domain.DeliveryRecord) []gin.H {
	views := make([]gin.H, 0, len(*records))
	for _, rec := range *records {
		view := gin.H{
			"id":           rec.Id.String(),
			"activity_id":  rec.ActivityId.String(),
			"activity_uri": rec.ActivityURI,
			"inbox_uri":    rec.InboxURI,
			"state":        string(rec.State),
			"attempts":     rec.Attempts,
			"last_error":   rec.LastError,
			"created_at":   rec.CreatedAt,
		}
		if !rec.State.Terminal() {
			view["next_attempt_at"] = rec.NextAttemptAt
		}
		views = append(views, view)
	}
	return views
}
