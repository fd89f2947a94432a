package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/feeds"
	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/domain"
	"github.com/veldt/anancus/util"
)

const feedLimit = 50

// GetRSS renders the recent content known to this instance, local and
// federated, as an RSS feed. With a non-empty actorURI the feed is
// limited to that actor.
func GetRSS(database *db.DB, conf *util.AppConfig, actorURI string) (string, error) {
	var err error
	var contents *[]domain.Content
	var title string

	link := fmt.Sprintf("https://%s/feed", conf.Conf.SslDomain)

	if actorURI != "" {
		err, contents = database.ReadContentsByActor(actorURI, feedLimit)
		title = fmt.Sprintf("%s - content by %s", util.Name, actorURI)
	} else {
		err, contents = database.ReadRecentContents(feedLimit)
		title = fmt.Sprintf("%s - federated content", util.Name)
	}
	if err != nil || contents == nil {
		log.Println("Could not read contents for feed:", err)
		return "", errors.New("error retrieving contents")
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("content feed of %s", conf.Conf.SslDomain),
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, content := range *contents {
		itemLink := content.CanonicalURL
		if itemLink == "" {
			itemLink = content.ObjectURI
		}
		author := content.ActorURI
		if content.Federated {
			author = fmt.Sprintf("%s (via %s)", content.OriginActorURI, content.OriginInstance)
		}
		feedItems = append(feedItems, &feeds.Item{
			Id:      content.ObjectURI,
			Title:   content.Title,
			Link:    &feeds.Link{Href: itemLink},
			Content: content.Description,
			Author:  &feeds.Author{Name: author},
			Created: content.CreatedAt,
		})
	}

	feed.Items = feedItems
	return feed.ToRss()
}
