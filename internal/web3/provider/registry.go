// Package provider instantiates chain clients from the chain definition file.
package provider

import (
	"context"
	"sort"
	"strings"

	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/internal/web3"
	"PoE-Chain/internal/web3/ethereum"
)

// Config 指定链定义文件与默认链。RPCURL 在定义文件为空时作为单链回退。
type Config struct {
	ChainFile    string `mapstructure:"chain_file"`
	DefaultChain string `mapstructure:"default_chain"`
	RPCURL       string `mapstructure:"rpc_url"`
}

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainFile)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client)
	closeAll := func() {
		for _, client := range clients {
			client.Close()
		}
	}
	for name, chain := range defs.Chains {
		switch strings.ToLower(strings.TrimSpace(chain.Type)) {
		case "", "evm", "ethereum":
		default:
			closeAll()
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "链 "+name+" 使用了不支持的类型 "+chain.Type)
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:          name,
			RPCURL:        chain.RPCURL,
			Confirmations: chain.Confirmations,
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		clients[name] = client
	}

	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if defaultChain == "" {
		defaultChain = defs.Default
	}
	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := ethereum.NewClient(ctx, ethereum.Config{Name: "default", RPCURL: cfg.RPCURL})
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		defaultChain = "default"
	}
	if len(clients) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任何链的 RPC 端点")
	}

	registry := &Registry{clients: clients}
	if defaultChain == "" {
		defaultChain = registry.Chains()[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		closeAll()
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "默认链 "+defaultChain+" 未在配置中找到")
	}
	registry.defaultChain = defaultChain
	return registry, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的链客户端注册表")
	}
	return r.clients[r.defaultChain], nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		client.Close()
		delete(r.clients, name)
	}
}
