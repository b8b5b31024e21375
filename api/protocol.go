package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/sportscave1/task-manager/domain"
)

var errInvalidBody = errors.New("invalid body")

type messageResponse struct {
	Message string `json:"message"`
}

type addResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

type editResponse struct {
	Message string      `json:"message"`
	Task    domain.Task `json:"task"`
}

type completeResponse struct {
	Message   string `json:"message"`
	Completed bool   `json:"completed"`
}

type registerResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// fields holds the scalar values present in a form or JSON object body. A
// key is present even when its value is blank.
type fields map[string]string

// readFields accepts both urlencoded forms and JSON objects, matching what
// browser forms and API clients send.
func readFields(c echo.Context) (fields, error) {
	req := c.Request()
	ctype := req.Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(ctype, echo.MIMEApplicationJSON) {
		return readJSONFields(req.Body)
	}
	form, err := c.FormParams()
	if err != nil {
		return nil, errInvalidBody
	}
	out := make(fields, len(form))
	for k, v := range form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out, nil
}

func readJSONFields(body io.Reader) (fields, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBodySize))
	if err != nil {
		return nil, errInvalidBody
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fields{}, nil
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	raw := map[string]any{}
	if err := dec.Decode(&raw); err != nil {
		return nil, errInvalidBody
	}
	out := make(fields, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case nil:
		case string:
			out[k] = x
		case bool, float64, int64, fmt.Stringer:
			out[k] = fmt.Sprint(x)
		default:
			return nil, fmt.Errorf("%w: field %s must be a scalar", errInvalidBody, k)
		}
	}
	return out, nil
}

func (f fields) ptr(keys ...string) *string {
	for _, k := range keys {
		if v, ok := f[k]; ok {
			return &v
		}
	}
	return nil
}

func (f fields) get(keys ...string) string {
	if p := f.ptr(keys...); p != nil {
		return *p
	}
	return ""
}

func (f fields) newTask(ownerID string) domain.NewTask {
	return domain.NewTask{
		OwnerID:     ownerID,
		Description: f.get("task", "description"),
		DueDate:     f.get("due_date"),
		Priority:    f.get("priority"),
		Category:    f.get("category"),
	}
}

func (f fields) changes() domain.TaskChanges {
	return domain.TaskChanges{
		Description: f.ptr("task", "description"),
		DueDate:     f.ptr("due_date"),
		Priority:    f.ptr("priority"),
		Category:    f.ptr("category"),
	}
}

func (f fields) taskID() (int64, bool) {
	return parseTaskID(f.get("task_id"))
}

func parseTaskID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
