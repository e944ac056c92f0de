package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	apppkg "github.com/mark3748/slotplanner/cmd/api/app"
	"github.com/mark3748/slotplanner/internal/distribute"
)

// List returns the stored tasks as a JSON array.
func List(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := a.Store.Load()
		if err != nil {
			apppkg.AbortStore(c, "could not read events", err)
			return
		}
		c.JSON(http.StatusOK, tasks)
	}
}

// ReplaceResponse acknowledges a replaced event file.
type ReplaceResponse struct {
	Count  int    `json:"count"`
	Backup string `json:"backup,omitempty"`
}

// Replace overwrites the stored tasks with the JSON array in the body. The
// previous file is backed up first.
func Replace(a *apppkg.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, fields, err := decodeTasks(c)
		if err != nil {
			apppkg.AbortError(c, http.StatusBadRequest, apppkg.CodeInvalidBody, err.Error(), fields)
			return
		}
		ctx := c.Request.Context()
		backup, err := a.Store.Save(ctx, tasks)
		if err != nil {
			apppkg.AbortStore(c, "could not save events", err)
			return
		}
		Publish(ctx, a.Q, Notification{Type: TypeReplaced, Data: gin.H{"count": len(tasks), "backup": backup}})
		c.JSON(http.StatusOK, ReplaceResponse{Count: len(tasks), Backup: backup})
	}
}

func decodeTasks(c *gin.Context) ([]distribute.Task, map[string]string, error) {
	var tasks []distribute.Task
	if err := json.NewDecoder(c.Request.Body).Decode(&tasks); err != nil {
		return nil, nil, fmt.Errorf("body must be a JSON array of events: %w", err)
	}
	if tasks == nil {
		return nil, nil, errors.New("body must be a JSON array of events")
	}
	fields := map[string]string{}
	for i := range tasks {
		err := binding.Validator.ValidateStruct(&tasks[i])
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fmt.Sprintf("%d.%s", i, strings.ToLower(fe.Field()))] = fe.Tag()
			}
		} else if err != nil {
			fields[fmt.Sprintf("%d", i)] = err.Error()
		}
	}
	if len(fields) > 0 {
		return nil, fields, errors.New("validation failed")
	}
	return tasks, nil, nil
}

// Stream relays Redis notifications to the client as server-sent events.
func Stream(a *apppkg.App) gin.HandlerFunc {
	return stream(a.Q, 25*time.Second)
}

func stream(rdb *redis.Client, heartbeat time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil {
			apppkg.AbortError(c, http.StatusServiceUnavailable, apppkg.CodeNotConfigured, "event stream requires redis", nil)
			return
		}
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}

		ctx := c.Request.Context()
		sub := rdb.Subscribe(ctx, Channel)
		defer sub.Close()
		ch := sub.Channel()
		c.Status(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Fprint(c.Writer, ":hb\n\n")
				flusher.Flush()
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil || n.Type == "" {
					continue
				}
				fmt.Fprintf(c.Writer, "event: %s\n", n.Type)
				fmt.Fprintf(c.Writer, "data: %s\n\n", msg.Payload)
				flusher.Flush()
			}
		}
	}
}
