package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/sportscave1/task-manager/domain"
)

const (
	msgTaskForbidden      = "task not found or unauthorized"
	msgInvalidCredentials = "invalid username or password"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Services, logger *log.Logger) {
	if svc.Tasks == nil || svc.Auth == nil {
		panic("api.Register: task service and authenticator are required")
	}
	if logger == nil {
		panic("api.Register: logger is required")
	}

	list := instrumented("/tasks", logger, listTasks(svc.Tasks, svc.Auth, logger))
	e.GET("/tasks", list)
	e.GET("/api/tasks", list)
	e.GET("/tasks/stream", streamTasks(svc.Tasks, svc.Auth, svc.Changes, svc.StreamInterval, logger))

	add := instrumented("/add", logger, addTask(svc.Tasks, svc.Auth, svc.Deduper, logger))
	e.POST("/add", add)
	e.POST("/add_task", add)
	e.POST("/edit/:id", instrumented("/edit", logger, editTask(svc.Tasks, svc.Auth, logger)))
	e.POST("/remove/:id", instrumented("/remove", logger, removeTask(svc.Tasks, svc.Auth, logger, pathTaskID)))
	e.POST("/remove_task", instrumented("/remove", logger, removeTask(svc.Tasks, svc.Auth, logger, bodyTaskID)))
	e.POST("/complete/:id", instrumented("/complete", logger, completeTask(svc.Tasks, svc.Auth, logger, pathTaskID)))
	e.POST("/mark_completed", instrumented("/complete", logger, completeTask(svc.Tasks, svc.Auth, logger, bodyTaskID)))

	if svc.Accounts != nil && svc.Tokens != nil {
		e.POST("/register", register(svc.Accounts, logger))
		e.POST("/login", login(svc.Accounts, svc.Tokens, logger))
	}
	e.GET("/logout", logout())
	e.POST("/logout", logout())

	e.GET("/healthz", healthz(svc.Health, logger))
}

func listTasks(tasks TaskService, auth Authenticator, logger *log.Logger) func(echo.Context, *requestMetrics) error {
	return func(c echo.Context, m *requestMetrics) error {
		userID, ok := authenticate(c, auth, m)
		if !ok {
			return nil
		}
		start := time.Now()
		list, err := tasks.List(c.Request().Context(), userID)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, m, logger, err)
		}
		m.SetTasksReturned(len(list))
		return c.JSON(http.StatusOK, list)
	}
}

func addTask(tasks TaskService, auth Authenticator, deduper Deduper, logger *log.Logger) func(echo.Context, *requestMetrics) error {
	return func(c echo.Context, m *requestMetrics) error {
		userID, ok := authenticate(c, auth, m)
		if !ok {
			return nil
		}
		f, err := readFields(c)
		if err != nil {
			m.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		ctx := c.Request().Context()

		key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
		if key != "" && deduper != nil {
			added, err := deduper.Add(ctx, userID, key)
			if err != nil {
				logger.WithError(err).Warn("dedupe check failed; continuing without it")
				key = ""
			} else if !added {
				m.SetErrorStage("duplicate")
				return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
			}
		} else {
			key = ""
		}

		start := time.Now()
		t, err := tasks.Add(ctx, f.newTask(userID))
		m.ObserveStore(time.Since(start))
		if err != nil {
			if key != "" {
				if rerr := deduper.Remove(context.WithoutCancel(ctx), userID, key); rerr != nil {
					logger.WithError(rerr).WithField("key", key).Error("dedupe rollback failed")
				}
			}
			return writeError(c, m, logger, err)
		}
		return c.JSON(http.StatusOK, addResponse{Message: "Task added successfully!", ID: t.ID})
	}
}

func editTask(tasks TaskService, auth Authenticator, logger *log.Logger) func(echo.Context, *requestMetrics) error {
	return func(c echo.Context, m *requestMetrics) error {
		userID, ok := authenticate(c, auth, m)
		if !ok {
			return nil
		}
		id, ok := parseTaskID(c.Param("id"))
		if !ok {
			m.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid task id"})
		}
		f, err := readFields(c)
		if err != nil {
			m.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		start := time.Now()
		t, err := tasks.Edit(c.Request().Context(), id, userID, f.changes())
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, m, logger, err)
		}
		return c.JSON(http.StatusOK, editResponse{Message: "Task updated successfully!", Task: t})
	}
}

type taskIDSource func(c echo.Context) (int64, bool)

func pathTaskID(c echo.Context) (int64, bool) {
	return parseTaskID(c.Param("id"))
}

func bodyTaskID(c echo.Context) (int64, bool) {
	f, err := readFields(c)
	if err != nil {
		return 0, false
	}
	return f.taskID()
}

func removeTask(tasks TaskService, auth Authenticator, logger *log.Logger, idFrom taskIDSource) func(echo.Context, *requestMetrics) error {
	return func(c echo.Context, m *requestMetrics) error {
		userID, ok := authenticate(c, auth, m)
		if !ok {
			return nil
		}
		id, ok := idFrom(c)
		if !ok {
			m.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid task id"})
		}
		start := time.Now()
		err := tasks.Remove(c.Request().Context(), id, userID)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, m, logger, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Task removed successfully!"})
	}
}

func completeTask(tasks TaskService, auth Authenticator, logger *log.Logger, idFrom taskIDSource) func(echo.Context, *requestMetrics) error {
	return func(c echo.Context, m *requestMetrics) error {
		userID, ok := authenticate(c, auth, m)
		if !ok {
			return nil
		}
		id, ok := idFrom(c)
		if !ok {
			m.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid task id"})
		}
		start := time.Now()
		done, err := tasks.ToggleComplete(c.Request().Context(), id, userID)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, m, logger, err)
		}
		return c.JSON(http.StatusOK, completeResponse{Message: "Task status updated!", Completed: done})
	}
}

func register(accounts AccountService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := readFields(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		u, err := accounts.Register(c.Request().Context(), f.get("username"), f.get("password"))
		if err != nil {
			return writeError(c, nil, logger, err)
		}
		logger.WithField("user", u.ID).Info("user registered")
		return c.JSON(http.StatusCreated, registerResponse{Message: "Account created! Please log in.", ID: u.ID})
	}
}

func login(accounts AccountService, tokens TokenIssuer, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		f, err := readFields(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		u, ok, err := accounts.Authenticate(c.Request().Context(), f.get("username"), f.get("password"))
		if err != nil {
			return writeError(c, nil, logger, err)
		}
		if !ok {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: msgInvalidCredentials})
		}
		token, exp, err := tokens.IssueToken(u.ID, u.Username)
		if err != nil {
			return writeError(c, nil, logger, err)
		}
		c.SetCookie(&http.Cookie{
			Name:     sessionCookie,
			Value:    token,
			Path:     "/",
			Expires:  exp,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		logger.WithField("user", u.ID).Info("user logged in")
		return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: exp.Unix()})
	}
}

func logout() echo.HandlerFunc {
	return func(c echo.Context) error {
		c.SetCookie(&http.Cookie{
			Name:     sessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		return c.JSON(http.StatusOK, messageResponse{Message: "Logged out"})
	}
}

func healthz(health HealthChecker, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if health == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := health.Ping(ctx); err != nil {
			logger.WithError(err).Warn("health check failed")
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	}
}

func authenticate(c echo.Context, auth Authenticator, m *requestMetrics) (string, bool) {
	start := time.Now()
	userID, err := auth.UserIDFromRequest(c.Request())
	m.ObserveAuth(time.Since(start))
	if err != nil {
		m.SetErrorStage("auth")
		_ = c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return "", false
	}
	return userID, true
}

// writeError maps domain failures onto status codes. Missing and foreign
// tasks share one response so callers cannot learn which ids other users hold.
func writeError(c echo.Context, m *requestMetrics, logger *log.Logger, err error) error {
	var (
		validationErr   domain.ValidationError
		notFoundErr     domain.NotFoundError
		unauthorizedErr domain.UnauthorizedError
		conflictErr     domain.ConflictError
	)
	stage := ""
	defer func() {
		if m != nil {
			m.SetErrorStage(stage)
		}
	}()

	switch {
	case errors.As(err, &validationErr):
		stage = "validation"
		return c.JSON(http.StatusBadRequest, errorResponse{Error: validationErr.Error()})
	case errors.As(err, &notFoundErr), errors.As(err, &unauthorizedErr):
		stage = "ownership"
		return c.JSON(http.StatusForbidden, errorResponse{Error: msgTaskForbidden})
	case errors.As(err, &conflictErr):
		stage = "conflict"
		return c.JSON(http.StatusConflict, errorResponse{Error: "username already exists"})
	default:
		stage = "storage"
		logger.WithError(err).WithField("path", c.Path()).Error("request failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
