package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	AuthorProfileKeyPrefix = "author_profile:%s"
	TrendingTagsKeyPrefix  = "tags:trending:%d"
)

// Keyspaces label cache metrics.
const (
	KeyspaceAuthorProfile = "author_profile"
	KeyspaceTrendingTags  = "trending_tags"
)

const (
	AuthorProfileTTL = 30 * time.Second
	TrendingTagsTTL  = 5 * time.Minute
)

func AuthorProfileKey(uid string) string {
	return fmt.Sprintf(AuthorProfileKeyPrefix, uid)
}

func TrendingTagsKey(limit int) string {
	return fmt.Sprintf(TrendingTagsKeyPrefix, limit)
}

func Invalidate(ctx context.Context, keys ...string) {
	if client != nil && len(keys) > 0 {
		client.Del(ctx, keys...)
	}
}

// InvalidateAuthorProfile drops the cached live profile of each uid.
func InvalidateAuthorProfile(ctx context.Context, uids ...string) {
	keys := make([]string, 0, len(uids))
	for _, uid := range uids {
		keys = append(keys, AuthorProfileKey(uid))
	}
	Invalidate(ctx, keys...)
}
