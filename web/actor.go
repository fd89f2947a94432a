package web

import (
	"encoding/json"
	"fmt"

	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/util"
)

type action uint

const (
	id action = iota
	inbox
	outbox
	followers
	sharedInbox
)

// GetActor renders the ActivityPub actor document for a local account,
// including the public key remote instances verify our signatures with.
func GetActor(database *db.DB, actor string, conf *util.AppConfig) (error, string) {
	err, acc := database.ReadAccountByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	doc := map[string]interface{}{
		"@context": []string{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        getIRI(conf.Conf.SslDomain, acc.Username, id),
		"type":                      "Person",
		"preferredUsername":         acc.Username,
		"name":                      acc.Username,
		"summary":                   acc.DID,
		"inbox":                     getIRI(conf.Conf.SslDomain, acc.Username, inbox),
		"outbox":                    getIRI(conf.Conf.SslDomain, acc.Username, outbox),
		"followers":                 getIRI(conf.Conf.SslDomain, acc.Username, followers),
		"url":                       getIRI(conf.Conf.SslDomain, acc.Username, id),
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"endpoints": map[string]string{
			"sharedInbox": getIRI(conf.Conf.SslDomain, acc.Username, sharedInbox),
		},
		"publicKey": map[string]string{
			"id":           getIRI(conf.Conf.SslDomain, acc.Username, id) + "#main-key",
			"owner":        getIRI(conf.Conf.SslDomain, acc.Username, id),
			"publicKeyPem": acc.WebPublicKey,
		},
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return err, "{}"
	}
	return nil, string(raw)
}

func getIRI(domain string, username string, a action) string {
	prefix := fmt.Sprintf("https://%s/users/%s", domain, username)
	switch a {
	case inbox:
		return prefix + "/inbox"
	case outbox:
		return prefix + "/outbox"
	case followers:
		return prefix + "/followers"
	case id:
		return prefix
	case sharedInbox:
		return fmt.Sprintf("https://%s/inbox", domain)
	default:
		return ""
	}
}
