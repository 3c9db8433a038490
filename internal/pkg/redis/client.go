// internal/pkg/redis/client.go
package redis

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 的 UniversalClient：
// 单个地址时是普通客户端，多个地址时自动切换为集群客户端。
type Client struct {
	client goredis.UniversalClient
}

// Options 是创建客户端需要的参数
type Options struct {
	Addrs    string // "host1:6379,host2:6379"
	Password string
	DB       int
}

// NewClient 创建客户端并做一次连通性检查
func NewClient(opts Options) (*Client, error) {
	addrs := strings.Split(opts.Addrs, ",")
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        addrs,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "failed to ping redis %s", opts.Addrs)
	}
	return &Client{client: rdb}, nil
}

// GetClient 返回底层客户端，用于 pipeline 等高级操作
func (c *Client) GetClient() goredis.UniversalClient {
	return c.client
}

// Close 关闭连接池
func (c *Client) Close() error {
	return c.client.Close()
}
