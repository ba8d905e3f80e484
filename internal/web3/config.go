package web3

import (
	"context"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "PoE-Chain/internal/errors"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Default string                     `yaml:"default"`
	Chains  map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type          string `yaml:"type"`
	RPCURL        string `yaml:"rpc_url"`
	Confirmations uint64 `yaml:"confirmations"`
	Description   string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取链配置失败")
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析链配置失败")
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, chain := range defs.Chains {
		if strings.TrimSpace(chain.RPCURL) == "" {
			return ChainDefinitions{}, xerrors.New(xerrors.CodeInitializationFailure, "链 "+name+" 缺少 rpc_url")
		}
	}
	return defs, nil
}

// HeightReader 返回链上最新区块高度。
type HeightReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client 是单条链的连接。
type Client interface {
	HeightReader
	Name() string
	Confirmations() uint64
	Close()
}
