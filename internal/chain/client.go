package chain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// DefaultCallTimeout bounds every chain read issued by the client.
const DefaultCallTimeout = 10 * time.Second

// Reader is the read-only view of the chain consumed by the indexer and
// the valuation engine.
type Reader interface {
	GetObject(ctx context.Context, id string) (*Object, error)
	GetDynamicFields(ctx context.Context, parentID string) ([]DynamicFieldInfo, error)
	GetCoinMetadata(ctx context.Context, coinType string) (*CoinMetadata, error)
	QueryEvents(ctx context.Context, packageID, module string, cursor *EventCursor, limit int) (EventPage, error)
}

// CoinMetadata is the on-chain registered metadata for a coin type.
type CoinMetadata struct {
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// Client reads objects, dynamic fields, and events over the node's
// JSON-RPC interface.
type Client struct {
	rpcClient *rpc.Client
	timeout   time.Duration
}

// NewClient dials the fullnode RPC endpoint.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return &Client{rpcClient: rpcClient, timeout: DefaultCallTimeout}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.rpcClient.CallContext(callCtx, result, method, args...)
}

type objectContent struct {
	DataType string                     `json:"dataType"`
	Type     string                     `json:"type"`
	Fields   map[string]json.RawMessage `json:"fields"`
}

type objectData struct {
	ObjectID string         `json:"objectId"`
	Type     string         `json:"type"`
	Content  *objectContent `json:"content"`
}

type objectResponse struct {
	Data  *objectData `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

// GetObject fetches an object with its type and content fields. An absent
// or deleted object yields (nil, nil).
func (c *Client) GetObject(ctx context.Context, id string) (*Object, error) {
	var resp objectResponse
	options := map[string]bool{"showType": true, "showContent": true}
	if err := c.call(ctx, &resp, "sui_getObject", id, options); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, nil
	}
	obj := &Object{ID: resp.Data.ObjectID, Type: resp.Data.Type}
	if resp.Data.Content != nil {
		if obj.Type == "" {
			obj.Type = resp.Data.Content.Type
		}
		obj.Fields = resp.Data.Content.Fields
	}
	if obj.Fields == nil {
		obj.Fields = map[string]json.RawMessage{}
	}
	return obj, nil
}

type dynamicFieldPage struct {
	Data        []DynamicFieldInfo `json:"data"`
	NextCursor  *string            `json:"nextCursor"`
	HasNextPage bool               `json:"hasNextPage"`
}

// GetDynamicFields enumerates all child objects attached to a parent,
// following pagination until exhausted.
func (c *Client) GetDynamicFields(ctx context.Context, parentID string) ([]DynamicFieldInfo, error) {
	var fields []DynamicFieldInfo
	var cursor *string
	for {
		var page dynamicFieldPage
		if err := c.call(ctx, &page, "suix_getDynamicFields", parentID, cursor, nil); err != nil {
			return nil, err
		}
		fields = append(fields, page.Data...)
		if !page.HasNextPage || page.NextCursor == nil {
			return fields, nil
		}
		cursor = page.NextCursor
	}
}

// GetCoinMetadata fetches registered coin metadata; unregistered coin
// types yield (nil, nil).
func (c *Client) GetCoinMetadata(ctx context.Context, coinType string) (*CoinMetadata, error) {
	var meta *CoinMetadata
	if err := c.call(ctx, &meta, "suix_getCoinMetadata", coinType); err != nil {
		return nil, err
	}
	return meta, nil
}

type eventQueryPage struct {
	Data        []Event      `json:"data"`
	NextCursor  *EventCursor `json:"nextCursor"`
	HasNextPage bool         `json:"hasNextPage"`
}

// QueryEvents returns up to limit events emitted by one package module,
// strictly after cursor, in ascending chain order.
func (c *Client) QueryEvents(ctx context.Context, packageID, module string, cursor *EventCursor, limit int) (EventPage, error) {
	query := map[string]interface{}{
		"MoveModule": map[string]string{
			"package": packageID,
			"module":  module,
		},
	}
	var page eventQueryPage
	if err := c.call(ctx, &page, "suix_queryEvents", query, cursor, limit, false); err != nil {
		return EventPage{}, err
	}
	return EventPage{Events: page.Data, NextCursor: page.NextCursor, HasNext: page.HasNextPage}, nil
}
