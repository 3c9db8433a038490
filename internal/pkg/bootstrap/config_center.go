// internal/pkg/bootstrap/config_center.go
package bootstrap

import (
	"sync"

	"nexus-wms/internal/pkg/logger"
	"nexus-wms/internal/pkg/nacos"

	"github.com/pkg/errors"
)

var (
	listenersMu sync.Mutex
	listeners   []func(*Config)
)

// OnConfigChange 注册配置变更回调，Nacos 推送的新配置校验通过后触发
func OnConfigChange(fn func(*Config)) {
	listenersMu.Lock()
	defer listenersMu.Unlock()
	listeners = append(listeners, fn)
}

// ConnectNacos 在配置了 NACOS_SERVER_ADDRS 时连接 Nacos，
// 拉取配置中心的文档覆盖本地配置，并订阅后续变更。
// 未配置时返回 (nil, cfg, nil)。
func ConnectNacos(cfg *Config) (*nacos.Client, *Config, error) {
	nc := cfg.Infra.Nacos
	if nc.Addrs == "" {
		return nil, cfg, nil
	}
	client, err := nacos.NewNacosClient(nc.Addrs, nc.Namespace, nc.Group)
	if err != nil {
		return nil, nil, err
	}

	content, err := client.GetConfig(nc.DataID)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	merged, err := applyRemote(cfg, content)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	setCurrentConfig(merged)

	err = client.ListenConfig(nc.DataID, func(content string) {
		next, err := applyRemote(GetCurrentConfig(), content)
		if err != nil {
			logger.L().Error().Err(err).Str("data_id", nc.DataID).Msg("❌ Rejected remote config")
			return
		}
		setCurrentConfig(next)
		logger.L().Info().Str("data_id", nc.DataID).Msg("🔄 Remote config reloaded")
		notify(next)
	})
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, merged, nil
}

// applyRemote 在 base 的副本上叠加远程文档，再应用环境变量；不修改 base
func applyRemote(base *Config, content string) (*Config, error) {
	next := *base
	if content != "" {
		if err := mergeYAML(&next, []byte(content)); err != nil {
			return nil, errors.Wrap(err, "parse remote config")
		}
	}
	applyEnv(&next)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}

func notify(c *Config) {
	listenersMu.Lock()
	fns := append([]func(*Config){}, listeners...)
	listenersMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
