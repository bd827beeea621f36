package metastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/openmined/syncbox/internal/utils"
	"github.com/redis/go-redis/v9"
)

const (
	fieldHash           = "hash"
	fieldLastModified   = "lastModifiedDate"
	fieldSource         = "source"
	fieldAddDate        = "addDate"
	fieldLastSyncDate   = "lastSyncDate"
	fieldPendingDeletes = "pendingDeletes"
	fieldName           = "name"
)

// RedisStore keeps each record as a hash. Files are indexed by a sorted set scored by
// lastSyncDate (unix milliseconds) and a set of names with pending deletes, versions by a
// set per file name. Sync dates live in a single hash keyed by host.
//
//	<prefix>:<Files>:item:<name>          file record
//	<prefix>:<Files>:synced               zset of file names by last sync date
//	<prefix>:<Files>:pending              set of file names with pending deletes
//	<prefix>:<Versions>:item:<itemName>   version record
//	<prefix>:<Versions>:name:<name>       set of version item names of a file
//	<prefix>:<SyncDates>                  host -> last sync date
type RedisStore struct {
	rdb     redis.UniversalClient
	prefix  string
	domains Domains
}

func NewRedisStore(rdb redis.UniversalClient, prefix string, domains Domains) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("nil redis client")
	}
	if err := domains.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "syncbox"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, domains: domains}, nil
}

func (s *RedisStore) fileKey(name string) string {
	return s.prefix + ":" + s.domains.Files + ":item:" + name
}

func (s *RedisStore) syncedIndexKey() string {
	return s.prefix + ":" + s.domains.Files + ":synced"
}

func (s *RedisStore) pendingIndexKey() string {
	return s.prefix + ":" + s.domains.Files + ":pending"
}

// syncScore is the synced index score of a lastSyncDate. Unparseable dates score as the epoch.
func syncScore(date string) float64 {
	return float64(utils.ParseTimeOr(date, utils.Epoch).UnixMilli())
}

func (s *RedisStore) versionKey(itemName string) string {
	return s.prefix + ":" + s.domains.Versions + ":item:" + itemName
}

func (s *RedisStore) versionIndexKey(name string) string {
	return s.prefix + ":" + s.domains.Versions + ":name:" + name
}

func (s *RedisStore) syncDatesKey() string {
	return s.prefix + ":" + s.domains.SyncDates
}

// Init checks connectivity. Keys are created on first write.
func (s *RedisStore) Init(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Debug("metastore initialized", "backend", "redis", "prefix", s.prefix)
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) SelectChanged(ctx context.Context, since string) ([]*FileItem, error) {
	sinceTime, err := utils.ParseTime(since)
	if err != nil {
		return nil, fmt.Errorf("failed to select changed files: bad date %q: %w", since, err)
	}

	pipe := s.rdb.Pipeline()
	syncedCmd := pipe.ZRangeByScore(ctx, s.syncedIndexKey(), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(sinceTime.UnixMilli(), 10),
		Max: "+inf",
	})
	pendingCmd := pipe.SMembers(ctx, s.pendingIndexKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to select changed files: %w", err)
	}

	seen := make(map[string]struct{})
	names := make([]string, 0, len(syncedCmd.Val())+len(pendingCmd.Val()))
	for _, name := range append(syncedCmd.Val(), pendingCmd.Val()...) {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	return s.getFiles(ctx, names)
}

func (s *RedisStore) SelectByName(ctx context.Context, name string) ([]*FileItem, error) {
	return s.getFiles(ctx, []string{name})
}

func (s *RedisStore) getFiles(ctx context.Context, names []string) ([]*FileItem, error) {
	sort.Strings(names)

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGetAll(ctx, s.fileKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read file records: %w", err)
	}

	items := make([]*FileItem, 0, len(names))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read file record %s: %w", names[i], err)
		}
		if len(fields) == 0 {
			continue
		}
		pending, err := strconv.Atoi(fields[fieldPendingDeletes])
		if err != nil {
			// negative marks the record malformed for callers
			slog.Warn("unparseable pending deletes", "name", names[i], "value", fields[fieldPendingDeletes])
			pending = -1
		}
		items = append(items, &FileItem{
			Name:           names[i],
			Hash:           fields[fieldHash],
			LastModified:   fields[fieldLastModified],
			Source:         fields[fieldSource],
			AddDate:        fields[fieldAddDate],
			LastSyncDate:   fields[fieldLastSyncDate],
			PendingDeletes: pending,
		})
	}
	return items, nil
}

func (s *RedisStore) PutFile(ctx context.Context, item *FileItem) error {
	if item == nil || item.Name == "" {
		return fmt.Errorf("cannot put file without a name")
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.fileKey(item.Name),
			fieldHash, item.Hash,
			fieldLastModified, item.LastModified,
			fieldSource, item.Source,
			fieldLastSyncDate, item.LastSyncDate,
			fieldPendingDeletes, 0,
		)
		pipe.ZAdd(ctx, s.syncedIndexKey(), redis.Z{Score: syncScore(item.LastSyncDate), Member: item.Name})
		pipe.SRem(ctx, s.pendingIndexKey(), item.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put file %s: %w", item.Name, err)
	}
	return nil
}

func (s *RedisStore) PutAddDateIfAbsent(ctx context.Context, name string, addDate string) error {
	ok, err := s.rdb.HSetNX(ctx, s.fileKey(name), fieldAddDate, addDate).Result()
	if err != nil {
		return fmt.Errorf("failed to put add date for %s: %w", name, err)
	}
	if !ok {
		return ErrConditionFailed
	}
	return nil
}

func (s *RedisStore) SetPendingDeletes(ctx context.Context, name string, count int) error {
	key := s.fileKey(name)
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to set pending deletes for %s: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldPendingDeletes, count)
		if count > 0 {
			pipe.SAdd(ctx, s.pendingIndexKey(), name)
		} else {
			pipe.SRem(ctx, s.pendingIndexKey(), name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set pending deletes for %s: %w", name, err)
	}
	return nil
}

func (s *RedisStore) DeleteFile(ctx context.Context, name string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.fileKey(name))
		pipe.ZRem(ctx, s.syncedIndexKey(), name)
		pipe.SRem(ctx, s.pendingIndexKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", name, err)
	}
	return nil
}

func (s *RedisStore) PutVersion(ctx context.Context, item *VersionItem) error {
	if item == nil {
		return fmt.Errorf("cannot put nil version")
	}
	if item.ItemName == "" {
		item.ItemName = VersionItemName(item.Hash, item.LastModified, item.Name)
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.versionKey(item.ItemName),
			fieldHash, item.Hash,
			fieldLastModified, item.LastModified,
			fieldName, item.Name,
			fieldSource, item.Source,
		)
		pipe.SAdd(ctx, s.versionIndexKey(item.Name), item.ItemName)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put version of %s: %w", item.Name, err)
	}
	return nil
}

func (s *RedisStore) ListVersions(ctx context.Context, name string) ([]*VersionItem, error) {
	itemNames, err := s.rdb.SMembers(ctx, s.versionIndexKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", name, err)
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(itemNames))
	for i, itemName := range itemNames {
		cmds[i] = pipe.HGetAll(ctx, s.versionKey(itemName))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list versions of %s: %w", name, err)
	}

	items := make([]*VersionItem, 0, len(itemNames))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		items = append(items, &VersionItem{
			ItemName:     itemNames[i],
			Hash:         fields[fieldHash],
			LastModified: fields[fieldLastModified],
			Name:         fields[fieldName],
			Source:       fields[fieldSource],
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].LastModified < items[j].LastModified
	})
	return items, nil
}

func (s *RedisStore) GetSyncDate(ctx context.Context, host string) (string, error) {
	date, err := s.rdb.HGet(ctx, s.syncDatesKey(), host).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("failed to get sync date of %s: %w", host, err)
	}
	return date, nil
}

func (s *RedisStore) PutSyncDate(ctx context.Context, host string, date string) error {
	if err := s.rdb.HSet(ctx, s.syncDatesKey(), host, date).Err(); err != nil {
		return fmt.Errorf("failed to put sync date of %s: %w", host, err)
	}
	return nil
}

func (s *RedisStore) ListSyncDates(ctx context.Context) ([]*SyncDateItem, error) {
	dates, err := s.rdb.HGetAll(ctx, s.syncDatesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sync dates: %w", err)
	}

	items := make([]*SyncDateItem, 0, len(dates))
	for host, date := range dates {
		items = append(items, &SyncDateItem{Host: host, LastSyncDate: date})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Host < items[j].Host
	})
	return items, nil
}

func (s *RedisStore) CountSyncDates(ctx context.Context) (int, error) {
	n, err := s.rdb.HLen(ctx, s.syncDatesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count sync dates: %w", err)
	}
	return int(n), nil
}

var _ Store = (*RedisStore)(nil)
