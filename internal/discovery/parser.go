// Package discovery turns on-chain pool-creation events into tracked pools.
package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"sui-sniper/internal/domain"
)

// Known mainnet package event types.
const (
	CetusCreatePoolEvent     = "0x1eabed72c53feb3805120a081dc15963c204dc8d091542592abaf7a35689b2fb::factory::CreatePoolEvent"
	TurbosPoolCreatedEvent   = "0x91bfbc386a41afcfd9b2533058d7e915a1d3829089cc268ff4333d54d6339ca1::pool_factory::PoolCreatedEvent"
	BlueMoveCreatedPoolEvent = "0xb24b6789e088b876afabca733bed2299fbc9e2d6369be4d1acfa17d8145454d9::swap::Created_Pool_Event"
)

const suiCoinSuffix = "::sui::SUI"

// PoolParser extracts a Pool from one DEX's creation event payload.
type PoolParser interface {
	ParsePool(event domain.Event) (*domain.Pool, error)
}

// cetusParser handles Cetus CreatePoolEvent payloads.
type cetusParser struct{}

type cetusPayload struct {
	PoolID    string `json:"pool_id"`
	CoinTypeA string `json:"coin_type_a"`
	CoinTypeB string `json:"coin_type_b"`
}

func (cetusParser) ParsePool(event domain.Event) (*domain.Pool, error) {
	var payload cetusPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil, fmt.Errorf("cetus payload: %w", err)
	}
	return buildPool(domain.DEXCetus, event, payload.PoolID, payload.CoinTypeA, payload.CoinTypeB)
}

// turbosParser handles Turbos PoolCreatedEvent payloads. Older factory
// versions emit the pool address under "pool", newer ones under "pool_id".
type turbosParser struct{}

type turbosPayload struct {
	Pool      string `json:"pool"`
	PoolID    string `json:"pool_id"`
	CoinTypeA string `json:"coin_type_a"`
	CoinTypeB string `json:"coin_type_b"`
}

func (turbosParser) ParsePool(event domain.Event) (*domain.Pool, error) {
	var payload turbosPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil, fmt.Errorf("turbos payload: %w", err)
	}
	poolID := payload.Pool
	if poolID == "" {
		poolID = payload.PoolID
	}
	return buildPool(domain.DEXTurbos, event, poolID, payload.CoinTypeA, payload.CoinTypeB)
}

// blueMoveParser handles BlueMove Created_Pool_Event payloads. BlueMove
// reports coin types as bare names without the 0x prefix.
type blueMoveParser struct{}

type blueMovePayload struct {
	PoolID     string `json:"pool_id"`
	TokenXName string `json:"token_x_name"`
	TokenYName string `json:"token_y_name"`
}

func (blueMoveParser) ParsePool(event domain.Event) (*domain.Pool, error) {
	var payload blueMovePayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return nil, fmt.Errorf("bluemove payload: %w", err)
	}
	return buildPool(domain.DEXBlueMove, event,
		payload.PoolID,
		normalizeCoinType(payload.TokenXName),
		normalizeCoinType(payload.TokenYName))
}

func normalizeCoinType(coinType string) string {
	if coinType == "" || strings.HasPrefix(coinType, "0x") {
		return coinType
	}
	return "0x" + coinType
}

// isSUI matches both the short and long form of the SUI coin type.
func isSUI(coinType string) bool {
	return strings.HasSuffix(coinType, suiCoinSuffix)
}

func buildPool(dex domain.DEX, event domain.Event, poolID, coinTypeA, coinTypeB string) (*domain.Pool, error) {
	if poolID == "" {
		return nil, fmt.Errorf("%s event %s: missing pool id", dex, event.ID)
	}
	if coinTypeA == "" || coinTypeB == "" {
		return nil, fmt.Errorf("%s pool %s: missing coin types", dex, poolID)
	}

	suiIsA := isSUI(coinTypeA)
	if !suiIsA && !isSUI(coinTypeB) {
		return nil, fmt.Errorf("%s pool %s: no SUI side (%s / %s)", dex, poolID, coinTypeA, coinTypeB)
	}

	return &domain.Pool{
		PoolID:          poolID,
		DEX:             dex,
		CoinTypeA:       coinTypeA,
		CoinTypeB:       coinTypeB,
		SuiIsA:          suiIsA,
		CreatedTxDigest: event.ID.TxDigest,
		TimestampMs:     event.TimestampMs,
	}, nil
}
