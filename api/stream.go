package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const defaultStreamInterval = 5 * time.Second

// streamTasks pushes the caller's sorted task list as server-sent events on
// every tick and, when changes is set, as soon as the list changes.
// EventSource cannot set headers, so the token may also arrive as ?token=.
func streamTasks(tasks TaskService, auth Authenticator, changes ChangeWatcher, interval time.Duration, logger *log.Logger) echo.HandlerFunc {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	return func(c echo.Context) error {
		req := c.Request()
		if token := c.QueryParam("token"); token != "" && req.Header.Get(echo.HeaderAuthorization) == "" {
			req = req.Clone(req.Context())
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		}
		userID, err := auth.UserIDFromRequest(req)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "stream unsupported"})
		}
		res.WriteHeader(http.StatusOK)
		flusher.Flush()

		var changed <-chan struct{}
		if changes != nil {
			ch, stop := changes.Watch(userID)
			defer stop()
			changed = ch
		}

		ctx := req.Context()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			list, err := tasks.List(ctx, userID)
			if err != nil {
				logger.WithError(err).WithField("user", userID).Warn("stream list failed")
			} else {
				data, err := sonic.Marshal(list)
				if err != nil {
					return err
				}
				if _, err := res.Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := res.Write(data); err != nil {
					return nil
				}
				if _, err := res.Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			case <-changed:
			}
		}
	}
}
