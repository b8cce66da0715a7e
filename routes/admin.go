package routes

import (
	"github.com/QueueCorpJP/App-Exit-sub002/models"
	"github.com/QueueCorpJP/App-Exit-sub002/storage"
	"github.com/QueueCorpJP/App-Exit-sub002/utils"

	"github.com/kataras/iris/v12"
)

// ListAuditLogs pages the audit trail, optionally filtered by actor or
// resource type. Admin only.
func ListAuditLogs(ctx iris.Context) {
	page := ctx.URLParamIntDefault("page", 1)
	perPage := ctx.URLParamIntDefault("perPage", 50)
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	query := storage.DB.Model(&models.AuditLog{})
	if actorID := ctx.URLParamIntDefault("actorID", 0); actorID > 0 {
		query = query.Where("actor_user_id = ?", actorID)
	}
	if resourceType := ctx.URLParam("resourceType"); resourceType != "" {
		query = query.Where("resource_type = ?", resourceType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	var logs []models.AuditLog
	if err := query.Order("id DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&logs).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	utils.JSONPage(ctx, logs, page, perPage, total)
}
