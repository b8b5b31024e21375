package storage

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/sportscave1/task-manager/domain"
)

// Backend is implemented by every persistence option.
type Backend interface {
	domain.TaskStorage
	domain.UserStorage
	Ping(ctx context.Context) error
}

const (
	unownedPartition = "_"
	metaPartition    = "_meta"
)

func sortByID(tasks []domain.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}

// rowKey zero pads ids so lexical RowKey order matches numeric order.
func rowKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func parseRowKey(rk string) (int64, error) {
	return strconv.ParseInt(rk, 10, 64)
}

func partitionFor(ownerID string) string {
	if ownerID == "" {
		return unownedPartition
	}
	return tableKey(ownerID)
}

func ownerFromPartition(pk string) string {
	if pk == unownedPartition {
		return ""
	}
	return fromTableKey(pk)
}

// tableKey percent-encodes the characters Azure Tables rejects in
// PartitionKey and RowKey values. A leading '_' is encoded too so user keys
// never land in the reserved partitions.
func tableKey(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '%', r == '/', r == '\\', r == '#', r == '?', unicode.IsControl(r), i == 0 && r == '_':
			for _, c := range []byte(string(r)) {
				fmt.Fprintf(&b, "%%%02X", c)
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func fromTableKey(k string) string {
	s, err := url.PathUnescape(k)
	if err != nil {
		return k
	}
	return s
}
