package ethereum

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/internal/web3"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name          string
	RPCURL        string
	Confirmations uint64
}

// backend 是客户端实际调用的 RPC 子集，ethclient 与模拟链客户端都满足。
type backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name          string
	confirmations uint64
	mu            sync.Mutex
	rpcClient     *gethrpc.Client
	eth           backend
}

var _ web3.Client = (*Client)(nil)

// NewClient dials the configured RPC endpoint.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置以太坊 RPC 地址")
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接以太坊节点失败")
	}
	return &Client{
		name:          cfg.Name,
		confirmations: cfg.Confirmations,
		rpcClient:     rpcClient,
		eth:           ethclient.NewClient(rpcClient),
	}, nil
}

// NewClientWithBackend 使用已有的后端构造客户端，通常用于模拟链。
func NewClientWithBackend(name string, confirmations uint64, b backend) *Client {
	return &Client{name: name, confirmations: confirmations, eth: b}
}

// Name 返回链名称。
func (c *Client) Name() string { return c.name }

// Confirmations 返回确认区块数。
func (c *Client) Confirmations() uint64 { return c.confirmations }

// BlockNumber 返回最新区块高度。
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	eth := c.backend()
	if eth == nil {
		return 0, xerrors.New(xerrors.CodeClockFailure, "以太坊客户端已关闭")
	}
	height, err := eth.BlockNumber(ctx)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeClockFailure, err, "获取最新区块高度失败",
			xerrors.WithMetadata("chain", c.name))
	}
	return height, nil
}

// ChainID 返回链 ID。
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	eth := c.backend()
	if eth == nil {
		return nil, xerrors.New(xerrors.CodeClockFailure, "以太坊客户端已关闭")
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeClockFailure, err, "获取链 ID 失败")
	}
	return id, nil
}

func (c *Client) backend() backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eth
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
	c.eth = nil
}
