package model

// PoolInfo is a point-in-time snapshot of one concentrated-liquidity pool.
// Snapshots are re-fetched before every decision or transaction attempt and
// never reused across retry attempts.
type PoolInfo struct {
	Address          string `json:"address"`
	CurrentTick      int32  `json:"current_tick"`
	TickSpacing      int32  `json:"tick_spacing"`
	CurrentSqrtPrice string `json:"current_sqrt_price"`
	CoinTypeA        string `json:"coin_type_a"`
	CoinTypeB        string `json:"coin_type_b"`
}
