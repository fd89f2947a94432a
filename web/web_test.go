package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/veldt/anancus/activitypub"
	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/domain"
	"github.com/veldt/anancus/util"
	"golang.org/x/time/rate"
)

func testConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Host = "localhost"
	conf.Conf.HttpPort = 8080
	conf.Conf.SslDomain = "local.example"
	conf.Conf.DeliveryWorkers = 1
	conf.Conf.DeliveryMaxAttempts = 5
	conf.Conf.DeliveryTimeoutSec = 5
	conf.Conf.UnreachableThreshold = 3
	conf.Conf.KeyFetchTimeoutSec = 5
	conf.Conf.ClockSkewSec = 300
	conf.Conf.MaxContentMB = 500
	conf.Conf.MaxDurationSeconds = 180
	return conf
}

func setupWebTest(t *testing.T) (*db.DB, *util.AppConfig, *domain.Account) {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("could not open database: %v", err)
	}
	err, acc := database.CreateAccount("alice")
	if err != nil {
		t.Fatalf("could not create account: %v", err)
	}
	return database, testConf(), acc
}

func seedContent(t *testing.T, database *db.DB, objectURI string, title string) *domain.Content {
	t.Helper()
	content := &domain.Content{
		Id:              uuid.New(),
		ObjectURI:       objectURI,
		ActorURI:        "https://local.example/users/alice",
		Title:           title,
		Description:     "a description",
		MediaType:       "video/mp4",
		DurationSeconds: 120,
		SizeBytes:       1024,
		Moderation:      domain.ModerationApproved,
		CreatedAt:       time.Now(),
	}
	if err := database.CreateContent(content); err != nil {
		t.Fatalf("could not create content: %v", err)
	}
	return content
}

func TestGetActorDocument(t *testing.T) {
	database, conf, acc := setupWebTest(t)

	err, doc := GetActor(database, "alice", conf)
	if err != nil {
		t.Fatalf("GetActor failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("actor document is not valid JSON: %v", err)
	}
	if parsed["id"] != "https://local.example/users/alice" {
		t.Errorf("unexpected actor id: %v", parsed["id"])
	}
	if parsed["inbox"] != "https://local.example/users/alice/inbox" {
		t.Errorf("unexpected inbox: %v", parsed["inbox"])
	}

	key, ok := parsed["publicKey"].(map[string]interface{})
	if !ok {
		t.Fatal("actor document has no publicKey block")
	}
	if key["publicKeyPem"] != acc.WebPublicKey {
		t.Error("publicKeyPem does not match the account key")
	}

	endpoints, ok := parsed["endpoints"].(map[string]interface{})
	if !ok || endpoints["sharedInbox"] != "https://local.example/inbox" {
		t.Errorf("unexpected endpoints block: %v", parsed["endpoints"])
	}
}

func TestGetActorUnknown(t *testing.T) {
	database, conf, _ := setupWebTest(t)

	err, _ := GetActor(database, "ghost", conf)
	if err == nil {
		t.Fatal("expected error for unknown actor")
	}
}

func TestWebfinger(t *testing.T) {
	database, conf, acc := setupWebTest(t)

	err, resp := GetWebfinger(database, "alice", conf)
	if err != nil {
		t.Fatalf("webfinger by username failed: %v", err)
	}
	if !strings.Contains(resp, "acct:alice@local.example") {
		t.Errorf("unexpected webfinger subject: %s", resp)
	}
	if !strings.Contains(resp, "https://local.example/users/alice") {
		t.Errorf("webfinger misses the actor link: %s", resp)
	}

	err, resp = GetWebfinger(database, acc.DID, conf)
	if err != nil {
		t.Fatalf("webfinger by DID failed: %v", err)
	}
	if !strings.Contains(resp, "acct:alice@local.example") {
		t.Errorf("DID lookup resolved to the wrong account: %s", resp)
	}

	err, _ = GetWebfinger(database, "nobody", conf)
	if err == nil {
		t.Fatal("expected error for unknown resource")
	}
}

func TestGetRSS(t *testing.T) {
	database, conf, _ := setupWebTest(t)
	seedContent(t, database, "https://local.example/contents/"+uuid.NewString(), "First upload")
	seedContent(t, database, "https://remote.example/videos/9", "Remote upload")

	rss, err := GetRSS(database, conf, "")
	if err != nil {
		t.Fatalf("GetRSS failed: %v", err)
	}
	if !strings.Contains(rss, "First upload") || !strings.Contains(rss, "Remote upload") {
		t.Errorf("feed misses seeded items: %s", rss)
	}

	rss, err = GetRSS(database, conf, "https://local.example/users/alice")
	if err != nil {
		t.Fatalf("GetRSS by actor failed: %v", err)
	}
	if !strings.Contains(rss, "First upload") {
		t.Error("actor feed misses the actor's item")
	}
}

func TestGetContentObject(t *testing.T) {
	database, conf, _ := setupWebTest(t)
	contentId := uuid.NewString()
	seedContent(t, database, fmt.Sprintf("https://local.example/contents/%s", contentId), "First upload")

	err, doc := GetContentObject(database, conf, contentId)
	if err != nil {
		t.Fatalf("GetContentObject failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("content object is not valid JSON: %v", err)
	}
	if parsed["type"] != "Video" {
		t.Errorf("unexpected object type: %v", parsed["type"])
	}
	if parsed["duration"] != "PT120S" {
		t.Errorf("unexpected duration: %v", parsed["duration"])
	}

	err, _ = GetContentObject(database, conf, uuid.NewString())
	if err == nil {
		t.Fatal("expected error for unknown content")
	}
}

func TestGetOutboxCollection(t *testing.T) {
	database, conf, _ := setupWebTest(t)

	activity := &domain.Activity{
		Id:        uuid.New(),
		URI:       "https://local.example/activities/" + uuid.NewString(),
		Kind:      domain.KindCreate,
		ActorURI:  "https://local.example/users/alice",
		ObjectURI: "https://local.example/contents/" + uuid.NewString(),
		RawJSON:   `{"type":"Create"}`,
		Local:     true,
		CreatedAt: time.Now(),
	}
	if err := database.CreateActivity(activity); err != nil {
		t.Fatalf("could not create activity: %v", err)
	}

	err, doc := GetOutbox(database, "alice", conf)
	if err != nil {
		t.Fatalf("GetOutbox failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("outbox is not valid JSON: %v", err)
	}
	if parsed["type"] != "OrderedCollection" {
		t.Errorf("unexpected collection type: %v", parsed["type"])
	}
	if parsed["totalItems"] != float64(1) {
		t.Errorf("unexpected totalItems: %v", parsed["totalItems"])
	}
}

func TestGetFollowersCollection(t *testing.T) {
	database, conf, _ := setupWebTest(t)

	follower := &domain.Follower{
		ActorURI:         "https://local.example/users/alice",
		FollowerActorURI: "https://remote.example/users/bob",
		FollowerInboxURI: "https://remote.example/inbox",
	}
	if err := database.AddFollower(follower); err != nil {
		t.Fatalf("could not add follower: %v", err)
	}

	err, doc := GetFollowersCollection(database, "alice", conf)
	if err != nil {
		t.Fatalf("GetFollowersCollection failed: %v", err)
	}
	if !strings.Contains(doc, "https://remote.example/users/bob") {
		t.Errorf("followers collection misses the follower: %s", doc)
	}
}

func newTestEngine(t *testing.T) (*gin.Engine, *db.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	database, conf, _ := setupWebTest(t)
	inbox := activitypub.NewRouter(database, conf, nil, nil, nil, nil, nil)
	return NewEngine(conf, database, inbox), database
}

func TestInboxEndpointRequiresSignature(t *testing.T) {
	engine, _ := newTestEngine(t)

	for _, path := range []string{"/inbox", "/users/alice/inbox"} {
		req := httptest.NewRequest("POST", path, bytes.NewReader([]byte(`{"type":"Like"}`)))
		req.Header.Set("Content-Type", "application/activity+json")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 for unsigned request, got %d", path, w.Code)
		}
	}
}

func TestWebfingerEndpoint(t *testing.T) {
	engine, _ := newTestEngine(t)

	req := httptest.NewRequest("GET", "/.well-known/webfinger?resource=acct:alice@local.example", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "acct:alice@local.example") {
		t.Errorf("unexpected webfinger response: %s", w.Body.String())
	}

	req = httptest.NewRequest("GET", "/.well-known/webfinger?resource=garbage", nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for malformed resource, got %d", w.Code)
	}
}

func TestAuditEndpoints(t *testing.T) {
	engine, database := newTestEngine(t)

	activity := &domain.Activity{
		Id:        uuid.New(),
		URI:       "https://local.example/activities/" + uuid.NewString(),
		Kind:      domain.KindCreate,
		ActorURI:  "https://local.example/users/alice",
		RawJSON:   `{"type":"Create"}`,
		Local:     true,
		CreatedAt: time.Now(),
	}
	if err := database.CreateActivity(activity); err != nil {
		t.Fatalf("could not create activity: %v", err)
	}
	records := []domain.DeliveryRecord{{
		Id:            uuid.New(),
		ActivityId:    activity.Id,
		ActivityURI:   activity.URI,
		ActorURI:      activity.ActorURI,
		InboxURI:      "https://remote.example/inbox",
		State:         domain.DeliveryPending,
		NextAttemptAt: time.Now(),
		CreatedAt:     time.Now(),
	}}
	if err := database.CreateDeliveryRecords(records); err != nil {
		t.Fatalf("could not create delivery records: %v", err)
	}

	req := httptest.NewRequest("GET", "/audit/deliveries?activity="+activity.Id.String(), nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "https://remote.example/inbox") {
		t.Errorf("delivery audit misses the record: %s", w.Body.String())
	}

	req = httptest.NewRequest("GET", "/audit/deliveries", nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without parameters, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/audit/instances", nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for instances, got %d", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.Use(RateLimitMiddleware(NewRateLimiter(rate.Limit(1), 2)))
	g.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	var limited bool
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/ping", nil)
		w := httptest.NewRecorder()
		g.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Error("expected at least one request to be rate limited")
	}
}

func TestMaxBytesMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.Use(MaxBytesMiddleware(16))
	g.POST("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("POST", "/ping", bytes.NewReader(make([]byte, 64)))
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for oversized body, got %d", w.Code)
	}
}
