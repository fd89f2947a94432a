package web

import (
	"fmt"
	"strings"

	"github.com/veldt/anancus/db"
	"github.com/veldt/anancus/domain"
	"github.com/veldt/anancus/util"
)

// GetWebfinger resolves an acct: username or a did:key handle to the
// local actor document location.
func GetWebfinger(database *db.DB, resource string, conf *util.AppConfig) (error, string) {
	var err error
	var acc *domain.Account

	if strings.HasPrefix(resource, "did:key:") {
		err, acc = database.ReadAccountByDID(resource)
	} else {
		err, acc = database.ReadAccountByUsername(resource)
	}
	if err != nil {
		return err, GetWebFingerNotFound()
	}

	return nil, fmt.Sprintf(
		`{
					"subject": "acct:%s@%s",

					"links": [
						{
							"rel": "self",
							"type": "application/activity+json",
							"href": "https://%s/users/%s"
						}
					]
				}`, acc.Username, conf.Conf.SslDomain,
		conf.Conf.SslDomain, acc.Username)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
