package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sportscave1/task-manager/domain"
)

const (
	allTasksKey   = "tasks:all"
	ownerKeyBase  = "tasks:u:"
	generationKey = "tasks:gen:"
)

// Cache wraps a Backend with Redis-backed caching of task lists. Writes go
// straight to the backend and bump the generation of the affected lists, so a
// read that started before the write can never publish its older snapshot.
type Cache struct {
	Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper around base using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Backend: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	gen, cacheable := c.generation(ctx, ownerID)
	if cacheable {
		if tasks, ok := c.loadTasks(ctx, ownerID, gen); ok {
			return tasks, nil
		}
	}

	tasks, err := c.Backend.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if cacheable {
		c.storeTasks(ctx, ownerID, gen, tasks)
	}
	return tasks, nil
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	out, err := c.Backend.InsertTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, t.OwnerID)
	return out, nil
}

func (c *Cache) UpdateTask(ctx context.Context, t domain.Task) error {
	if err := c.Backend.UpdateTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.OwnerID)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, t domain.Task) error {
	if err := c.Backend.DeleteTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.OwnerID)
	return nil
}

// generation reads the current list generation for ownerID. A missing
// counter is generation zero; ok is false when Redis cannot be used.
func (c *Cache) generation(ctx context.Context, ownerID string) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationCounterKey(ownerID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, true
		}
		return 0, false
	}
	return gen, true
}

func (c *Cache) loadTasks(ctx context.Context, ownerID string, gen int64) ([]domain.Task, bool) {
	key := tasksCacheKey(ownerID, gen)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, ownerID string, gen int64, tasks []domain.Task) {
	if c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(ownerID, gen), data, c.ttl).Err()
}

// evict moves the owner's list and the all-tasks list to a new generation.
// Entries under the old generation are left to expire.
func (c *Cache) evict(ctx context.Context, ownerID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, generationCounterKey(""))
		if ownerID != "" {
			p.Incr(ctx, generationCounterKey(ownerID))
		}
		return nil
	})
}

// listKey names the list for ownerID; "" is the list of every task.
func listKey(ownerID string) string {
	if ownerID == "" {
		return allTasksKey
	}
	return ownerKeyBase + ownerID
}

func generationCounterKey(ownerID string) string {
	return generationKey + listKey(ownerID)
}

func tasksCacheKey(ownerID string, gen int64) string {
	return listKey(ownerID) + ":" + strconv.FormatInt(gen, 10)
}
