package authz

import (
	"context"
	"time"

	"google.golang.org/grpc/metadata"

	"github.com/kompo/authlib/cache"
)

type cacheWrap struct {
	successReadCnt   int
	successWriteCnt  int
	successDeleteCnt int
	cache            cache.Cache
}

// Get implements cache.Cache.
func (c *cacheWrap) Get(ctx context.Context, key string) ([]byte, error) {
	get, err := c.cache.Get(ctx, key)
	if err == nil {
		c.successReadCnt++
	}
	return get, err
}

// Set implements cache.Cache.
func (c *cacheWrap) Set(ctx context.Context, key string, data []byte, exp time.Duration) error {
	err := c.cache.Set(ctx, key, data, exp)
	if err == nil {
		c.successWriteCnt++
	}
	return err
}

func (c *cacheWrap) Delete(ctx context.Context, key string) error {
	err := c.cache.Delete(ctx, key)
	if err == nil {
		c.successDeleteCnt++
	}
	return err
}

// methodStream carries the called method the way the grpc server does.
type methodStream struct {
	method string
}

func (s methodStream) Method() string                  { return s.method }
func (s methodStream) SetHeader(md metadata.MD) error  { return nil }
func (s methodStream) SendHeader(md metadata.MD) error { return nil }
func (s methodStream) SetTrailer(md metadata.MD) error { return nil }
