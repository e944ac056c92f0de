package backups

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	apppkg "github.com/mark3748/slotplanner/cmd/api/app"
)

var backupName = regexp.MustCompile(`^[A-Za-z0-9_-]+_back[0-9]*(\.[A-Za-z0-9]+)?$`)

// URL returns a presigned download link for a backup kept in MinIO.
func URL(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.Presign == nil {
			apppkg.AbortError(c, http.StatusNotImplemented, apppkg.CodeNotConfigured, "backup downloads require object storage", nil)
			return
		}
		name := c.Param("name")
		if !backupName.MatchString(name) {
			apppkg.AbortError(c, http.StatusBadRequest, apppkg.CodeInvalidName, "not a backup name", nil)
			return
		}
		ctx := c.Request.Context()
		ok, err := a.Presign.Sink.Exists(ctx, name)
		if err != nil {
			apppkg.AbortStore(c, "could not look up backup "+name, err)
			return
		}
		if !ok {
			apppkg.AbortError(c, http.StatusNotFound, apppkg.CodeNotFound, "backup not found", nil)
			return
		}
		u, err := a.Presign.BackupURL(ctx, name, a.Presign.MaxTTL)
		if err != nil {
			apppkg.AbortStore(c, "could not sign url", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": u})
	}
}
