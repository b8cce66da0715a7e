package utils

import (
	"encoding/json"
	"net"

	"github.com/QueueCorpJP/App-Exit-sub002/models"
	"github.com/QueueCorpJP/App-Exit-sub002/storage"

	"github.com/kataras/iris/v12"
	"gorm.io/datatypes"
)

// Audit appends a workflow audit entry. Failures are intentionally
// swallowed: an audit write must never fail the request it describes.
func Audit(ctx iris.Context, actorID uint, action, resourceType string, resourceID uint, before interface{}, after interface{}) {
	var beforeJSON, afterJSON datatypes.JSON
	if before != nil {
		if b, err := json.Marshal(before); err == nil {
			beforeJSON = b
		}
	}
	if after != nil {
		if a, err := json.Marshal(after); err == nil {
			afterJSON = a
		}
	}
	entry := models.AuditLog{
		ActorUserID:  actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Before:       beforeJSON,
		After:        afterJSON,
		IPAddress:    clientIP(ctx),
	}
	storage.DB.Create(&entry)
}

func clientIP(ctx iris.Context) string {
	if ip := ctx.GetHeader("X-Forwarded-For"); ip != "" {
		return ip
	}
	ip, _, _ := net.SplitHostPort(ctx.RemoteAddr())
	return ip
}
