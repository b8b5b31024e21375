package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/sportscave1/task-manager/domain"
)

const (
	seqRowKey      = "task-seq"
	maxSeqAttempts = 16
	edmInt64       = "Edm.Int64"
)

// Tables persists tasks and users in Azure Table Storage.
type Tables struct {
	taskTable *aztables.Client
	userTable *aztables.Client
}

// NewTables creates a Tables backend from the given connection string.
func NewTables(connStr, tasksTable, usersTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{taskTable: svc.NewClient(tasksTable), userTable: svc.NewClient(usersTable)}, nil
}

type taskEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Description  string `json:"Description"`
	DueDate      string `json:"DueDate"`
	Priority     string `json:"Priority"`
	Category     string `json:"Category"`
	Completed    bool   `json:"Completed"`
}

type seqEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Value        int64  `json:"Value,string"`
	ValueType    string `json:"Value@odata.type"`
}

type userEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	ID           string `json:"ID"`
	PasswordHash string `json:"PasswordHash"`
}

func toTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		PartitionKey: partitionFor(t.OwnerID),
		RowKey:       rowKey(t.ID),
		Description:  t.Description,
		DueDate:      t.DueDate,
		Priority:     string(t.Priority),
		Category:     t.Category,
		Completed:    t.Completed,
	}
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	id, err := parseRowKey(ent.RowKey)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task row key %q: %w", ent.RowKey, err)
	}
	return domain.Task{
		ID:          id,
		OwnerID:     ownerFromPartition(ent.PartitionKey),
		Description: ent.Description,
		DueDate:     ent.DueDate,
		Priority:    domain.Priority(ent.Priority),
		Category:    ent.Category,
		Completed:   ent.Completed,
	}, nil
}

func (s *Tables) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	id, err := s.nextID(ctx)
	if err != nil {
		return domain.Task{}, fmt.Errorf("allocate id: %w", err)
	}
	t.ID = id
	payload, err := json.Marshal(toTaskEntity(t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// nextID increments the sequence entity guarded by its ETag.
func (s *Tables) nextID(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < maxSeqAttempts; attempt++ {
		resp, err := s.taskTable.GetEntity(ctx, metaPartition, seqRowKey, nil)
		if responseStatus(err) == http.StatusNotFound {
			payload, err := json.Marshal(seqEntity{PartitionKey: metaPartition, RowKey: seqRowKey, Value: 1, ValueType: edmInt64})
			if err != nil {
				return 0, err
			}
			_, err = s.taskTable.AddEntity(ctx, payload, nil)
			if err == nil {
				return 1, nil
			}
			if responseStatus(err) == http.StatusConflict {
				continue
			}
			return 0, err
		}
		if err != nil {
			return 0, err
		}

		var seq seqEntity
		if err := json.Unmarshal(resp.Value, &seq); err != nil {
			return 0, err
		}
		seq.Value++
		seq.ValueType = edmInt64
		payload, err := json.Marshal(seq)
		if err != nil {
			return 0, err
		}
		etag := resp.ETag
		_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if responseStatus(err) == http.StatusPreconditionFailed {
			continue
		}
		if err != nil {
			return 0, err
		}
		return seq.Value, nil
	}
	return 0, domain.ErrConcurrencyConflict
}

func (s *Tables) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	tasks, err := s.query(ctx, "RowKey eq '"+rowKey(id)+"'")
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

func (s *Tables) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	filter := "PartitionKey ne '" + metaPartition + "'"
	if ownerID != "" {
		filter = "PartitionKey eq '" + escapeODataString(partitionFor(ownerID)) + "'"
	}
	tasks, err := s.query(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortByID(tasks)
	return tasks, nil
}

func (s *Tables) query(ctx context.Context, filter string) ([]domain.Task, error) {
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (s *Tables) UpdateTask(ctx context.Context, t domain.Task) error {
	payload, err := json.Marshal(toTaskEntity(t))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	if responseStatus(err) == http.StatusNotFound {
		return domain.NotFoundError{ID: t.ID}
	}
	return err
}

func (s *Tables) DeleteTask(ctx context.Context, t domain.Task) error {
	_, err := s.taskTable.DeleteEntity(ctx, partitionFor(t.OwnerID), rowKey(t.ID), nil)
	if responseStatus(err) == http.StatusNotFound {
		return nil
	}
	return err
}

func (s *Tables) InsertUser(ctx context.Context, u domain.User) error {
	payload, err := json.Marshal(userEntity{
		PartitionKey: tableKey(u.Username),
		RowKey:       tableKey(u.Username),
		ID:           u.ID,
		PasswordHash: u.PasswordHash,
	})
	if err != nil {
		return err
	}
	_, err = s.userTable.AddEntity(ctx, payload, nil)
	if responseStatus(err) == http.StatusConflict {
		return domain.ConflictError{Username: u.Username}
	}
	return err
}

func (s *Tables) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	key := tableKey(username)
	resp, err := s.userTable.GetEntity(ctx, key, key, nil)
	if err != nil {
		if responseStatus(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	var ent userEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return &domain.User{ID: ent.ID, Username: fromTableKey(ent.RowKey), PasswordHash: ent.PasswordHash}, nil
}

// Ping reads at most one entity from the task table.
func (s *Tables) Ping(ctx context.Context) error {
	top := int32(1)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top})
	if !pager.More() {
		return nil
	}
	_, err := pager.NextPage(ctx)
	return err
}

func responseStatus(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func escapeODataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
