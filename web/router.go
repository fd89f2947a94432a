package web

import (
	"fmt"
	"log"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/veldt/anancus/activitypub"
	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/util"
	"golang.org/x/time/rate"
)

// Router starts the HTTP server with the federation and feed endpoints.
func Router(conf *util.AppConfig, database *db.DB, inbox *activitypub.Router) error {
	log.Printf("Starting HTTP server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	g := NewEngine(conf, database, inbox)
	return g.Run(fmt.Sprintf(":%d", conf.Conf.HttpPort))
}

// NewEngine wires up all routes on a fresh Gin engine.
func NewEngine(conf *util.AppConfig, database *db.DB, inbox *activitypub.Router) *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter rate limit for ActivityPub endpoints: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)

	// Max 1MB request body size for ActivityPub activities. Media is
	// never posted here, inbound activities only carry references.
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")

		actorURI := c.Query("actor")
		rss, err := GetRSS(database, conf, actorURI)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	// Serve content records as ActivityPub objects
	g.GET("/contents/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")

		err, doc := GetContentObject(database, conf, c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Content not found"})
		} else {
			c.Render(200, render.String{Format: doc})
		}
	})

	g.GET("/users/:actor", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")

		err, actor := GetActor(database, c.Param("actor"), conf)
		if err != nil {
			c.Render(404, render.String{Format: actor})
		} else {
			c.Render(200, render.String{Format: actor})
		}
	})

	// Shared inbox. The federation router verifies the signature and
	// dispatches on the activity type, the handler only maps the
	// typed result to a status code.
	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		handleInboxPost(c, inbox)
	})

	g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		handleInboxPost(c, inbox)
	})

	g.GET("/users/:actor/outbox", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")

		err, outbox := GetOutbox(database, c.Param("actor"), conf)
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
		} else {
			c.Render(200, render.String{Format: outbox})
		}
	})

	g.GET("/users/:actor/followers", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")

		err, coll := GetFollowersCollection(database, c.Param("actor"), conf)
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
		} else {
			c.Render(200, render.String{Format: coll})
		}
	})

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")

		resource := c.Query("resource")
		switch {
		case strings.HasPrefix(resource, "acct:"):
			resource = strings.TrimPrefix(resource, "acct:")
			resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", conf.Conf.SslDomain))
		case strings.HasPrefix(resource, "did:key:"):
			// handled as-is by the lookup
		default:
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
			return
		}

		err, resp := GetWebfinger(database, resource, conf)
		if err != nil {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
		} else {
			c.Render(200, render.String{Format: resp})
		}
	})

	registerAuditRoutes(g, database)

	return g
}

func handleInboxPost(c *gin.Context, inbox *activitypub.Router) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		c.Status(400)
		return
	}
	result := inbox.Receive(c.Request, body)
	c.Status(result.HTTPStatus())
}
