package web

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/util"
)

const outboxPageSize = 20

// GetContentObject renders a locally known content record as an
// ActivityPub Video object.
func GetContentObject(database *db.DB, conf *util.AppConfig, contentId string) (error, string) {
	objectURI := fmt.Sprintf("https://%s/contents/%s", conf.Conf.SslDomain, contentId)
	err, content := database.ReadContentByObjectURI(objectURI)
	if err != nil {
		return err, ""
	}

	url := content.CanonicalURL
	if url == "" {
		url = objectURI
	}

	doc := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           content.ObjectURI,
		"type":         "Video",
		"name":         content.Title,
		"content":      content.Description,
		"attributedTo": content.ActorURI,
		"url":          url,
		"mediaType":    content.MediaType,
		"duration":     fmt.Sprintf("PT%dS", content.DurationSeconds),
		"published":    content.CreatedAt.UTC().Format(time.RFC3339),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return err, ""
	}
	return nil, string(raw)
}

// GetOutbox renders an OrderedCollection of the actor's recent
// activities, raw documents included.
func GetOutbox(database *db.DB, actor string, conf *util.AppConfig) (error, string) {
	err, acc := database.ReadAccountByUsername(actor)
	if err != nil {
		return err, ""
	}

	actorURI := fmt.Sprintf("https://%s/users/%s", conf.Conf.SslDomain, acc.Username)
	err, activities := database.ReadActivitiesByActor(actorURI, outboxPageSize)
	if err != nil {
		return err, ""
	}

	items := make([]json.RawMessage, 0, len(*activities))
	for _, activity := range *activities {
		items = append(items, json.RawMessage(activity.RawJSON))
	}

	doc := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           actorURI + "/outbox",
		"type":         "OrderedCollection",
		"totalItems":   len(items),
		"orderedItems": items,
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return err, ""
	}
	return nil, string(raw)
}

// GetFollowersCollection renders the follower actor URIs of a local
// account.
func GetFollowersCollection(database *db.DB, actor string, conf *util.AppConfig) (error, string) {
	err, acc := database.ReadAccountByUsername(actor)
	if err != nil {
		return err, ""
	}

	actorURI := fmt.Sprintf("https://%s/users/%s", conf.Conf.SslDomain, acc.Username)
	err, followers := database.ReadFollowers(actorURI)
	if err != nil {
		return err, ""
	}

	items := make([]string, 0, len(*followers))
	for _, follower := range *followers {
		items = append(items, follower.FollowerActorURI)
	}

	doc := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           actorURI + "/followers",
		"type":         "OrderedCollection",
		"totalItems":   len(items),
		"orderedItems": items,
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return err, ""
	}
	return nil, string(raw)
}
